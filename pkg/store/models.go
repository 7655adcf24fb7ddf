package store

import "time"

// Статусы разговора
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
)

// Conversation запись о звонке
type Conversation struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	CallID          string     `gorm:"size:100;index" json:"call_id"`
	CallerID        string     `gorm:"size:100" json:"caller_id"`
	StartedAt       time.Time  `gorm:"index" json:"started_at"`
	AnsweredAt      *time.Time `json:"answered_at"`
	EndedAt         *time.Time `json:"ended_at"`
	DurationSeconds float64    `json:"duration_seconds"`
	Status          string     `gorm:"size:50;index" json:"status"`
	RecordingPath   string     `gorm:"size:255" json:"recording_path,omitempty"`
}

// Duration длительность от ответа (или начала) до завершения или now
func (c Conversation) Duration(now time.Time) time.Duration {
	start := c.StartedAt
	if c.AnsweredAt != nil {
		start = *c.AnsweredAt
	}
	end := now
	if c.EndedAt != nil {
		end = *c.EndedAt
	}
	if end.Before(start) {
		return 0
	}
	return end.Sub(start)
}

// Message реплика разговора
type Message struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ConversationID uint      `gorm:"index" json:"conversation_id"`
	Timestamp      time.Time `json:"timestamp"`
	Role           string    `gorm:"size:20" json:"role"`
	Content        string    `gorm:"type:text" json:"content"`
	Model          string    `gorm:"size:100" json:"model,omitempty"`
	AudioDuration  *float64  `json:"audio_duration,omitempty"`
}

// MessageReference связь ответа ассистента с данными обогащения по маркеру
type MessageReference struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	MessageID uint   `gorm:"index" json:"message_id"`
	Kind      string `gorm:"size:20" json:"kind"`
	Index     int    `json:"index"`
	Position  int    `json:"position"`
	Title     string `gorm:"size:100" json:"title"`
	Data      string `gorm:"type:text" json:"data"`
}

// CallLog событие звонка
type CallLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Timestamp time.Time `gorm:"index" json:"timestamp"`
	Level     string    `gorm:"size:20" json:"level"`
	Event     string    `gorm:"size:100" json:"event"`
	Details   string    `gorm:"type:text" json:"details,omitempty"`
	CallID    string    `gorm:"size:100;index" json:"call_id,omitempty"`
}
