//go:build !linux && !darwin

package rtp

// На остальных платформах сокет оставляем с настройками по умолчанию

func setSockOptBuffers(fd uintptr, recv, send int) {}

func setSockOptDSCP(fd uintptr, dscp int) {}

func setSockOptVoicePriority(fd uintptr) {}
