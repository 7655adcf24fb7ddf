// Package media содержит обработку звука одного звонка без ввода-вывода:
// детектор речи с адаптивным порогом, преобразования PCM (RMS, передискретизация,
// нормализация), генерацию тона ожидания, декодирование MP3 ответа синтеза речи
// и запись WAV.
//
// # Детектор речи
//
// Detector получает 20ms кадры PCM 8 кГц. Первые CalibrationFrames кадров
// без заглушения собирают уровень шума, после чего порог становится
//
//	median + 2.0 * (p75 - median)
//
// с ограничением [MinThreshold, MaxThreshold]. Запись фразы начинается, когда
// подряд больше SpeechFramesToStart кадров громче порога; в начало фразы
// попадает кольцо из последних PreSpeechFrames кадров. Фраза завершается после
// SilenceTimeout тишины, если предыдущая фраза уже обработана (Done).
//
// Детектор не потокобезопасен: сессия вызывает его под своим мьютексом.
package media
