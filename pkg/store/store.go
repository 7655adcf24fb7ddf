// Package store хранит историю звонков в SQLite через gorm.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/arzzra/voice_bridge/pkg/pipeline"
)

// ErrCallNotFound нет записи разговора с таким call id
var ErrCallNotFound = errors.New("store: call not found")

// Системные сообщения жизненного цикла звонка
const (
	MessageCallStarted  = "Call started"
	MessageCallAnswered = "Call answered"
)

// Store доступ к базе звонков
type Store struct {
	db     *gorm.DB
	logger logrus.FieldLogger
	now    func() time.Time
}

// Open открывает базу и выполняет миграции. path ":memory:" создает базу в памяти.
func Open(path string, logger logrus.FieldLogger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	// SQLite допускает одного писателя, а база в памяти живет в одном соединении
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Conversation{}, &Message{}, &MessageReference{}, &CallLog{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close закрывает соединение
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateCall создает запись активного разговора и возвращает ее id
func (s *Store) CreateCall(ctx context.Context, callID, callerID string) (uint, error) {
	conv := &Conversation{
		CallID:    callID,
		CallerID:  callerID,
		StartedAt: s.now(),
		Status:    StatusActive,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conv).Error; err != nil {
			return err
		}
		return tx.Create(&Message{
			ConversationID: conv.ID,
			Timestamp:      conv.StartedAt,
			Role:           string(pipeline.RoleSystem),
			Content:        MessageCallStarted,
		}).Error
	})
	if err != nil {
		return 0, fmt.Errorf("create call %s: %w", callID, err)
	}
	return conv.ID, nil
}

// MarkAnswered фиксирует момент ответа. Повторный вызов ничего не меняет.
func (s *Store) MarkAnswered(ctx context.Context, callID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conv, err := findCall(tx, callID)
		if err != nil {
			return err
		}
		if conv.AnsweredAt != nil {
			return nil
		}

		now := s.now()
		if err := tx.Model(conv).Update("answered_at", now).Error; err != nil {
			return fmt.Errorf("mark answered %s: %w", callID, err)
		}
		return tx.Create(&Message{
			ConversationID: conv.ID,
			Timestamp:      now,
			Role:           string(pipeline.RoleSystem),
			Content:        MessageCallAnswered,
		}).Error
	})
}

// EndCall завершает разговор и считает длительность. Завершенный разговор не меняется.
func (s *Store) EndCall(ctx context.Context, callID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conv, err := findCall(tx, callID)
		if err != nil {
			return err
		}
		if conv.EndedAt != nil {
			return nil
		}

		now := s.now()
		conv.EndedAt = &now
		conv.Status = StatusCompleted
		conv.DurationSeconds = conv.Duration(now).Seconds()

		if err := tx.Save(conv).Error; err != nil {
			return fmt.Errorf("end call %s: %w", callID, err)
		}
		return nil
	})
}

// AppendMessage добавляет реплику и возвращает ее id
func (s *Store) AppendMessage(ctx context.Context, callID string, role pipeline.Role, content, model string) (uint, error) {
	var id uint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conv, err := findCall(tx, callID)
		if err != nil {
			return err
		}

		msg := &Message{
			ConversationID: conv.ID,
			Timestamp:      s.now(),
			Role:           string(role),
			Content:        content,
			Model:          model,
		}
		if err := tx.Create(msg).Error; err != nil {
			return fmt.Errorf("append message: %w", err)
		}
		id = msg.ID

		if conv.EndedAt == nil {
			return tx.Model(conv).Update("duration_seconds", conv.Duration(msg.Timestamp).Seconds()).Error
		}
		return nil
	})
	return id, err
}

// SetRecordingPath сохраняет путь к записи звонка
func (s *Store) SetRecordingPath(ctx context.Context, callID, path string) error {
	res := s.db.WithContext(ctx).Model(&Conversation{}).
		Where("call_id = ?", callID).
		Update("recording_path", path)
	if res.Error != nil {
		return fmt.Errorf("set recording path: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s: %w", callID, ErrCallNotFound)
	}
	return nil
}

// LinkReference связывает ответ с элементом обогащения, на который указал маркер
func (s *Store) LinkReference(ctx context.Context, messageID uint, item pipeline.Item, position int) error {
	data, err := json.Marshal(item.Data)
	if err != nil {
		return fmt.Errorf("marshal reference data: %w", err)
	}

	ref := &MessageReference{
		MessageID: messageID,
		Kind:      item.Kind,
		Index:     item.Index,
		Position:  position,
		Title:     item.Title,
		Data:      string(data),
	}
	if err := s.db.WithContext(ctx).Create(ref).Error; err != nil {
		return fmt.Errorf("link reference: %w", err)
	}
	return nil
}

// RecentMessages последние n реплик абонента и ассистента в хронологическом порядке
func (s *Store) RecentMessages(ctx context.Context, callID string, n int) ([]pipeline.Message, error) {
	conv, err := findCall(s.db.WithContext(ctx), callID)
	if err != nil {
		return nil, err
	}

	var rows []Message
	err = s.db.WithContext(ctx).
		Where("conversation_id = ? AND role IN ?", conv.ID, []string{string(pipeline.RoleUser), string(pipeline.RoleAssistant)}).
		Order("id DESC").
		Limit(n).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}

	history := make([]pipeline.Message, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		history = append(history, pipeline.Message{Role: pipeline.Role(rows[i].Role), Content: rows[i].Content})
	}
	return history, nil
}

// StaleActiveCalls call id активных разговоров, начатых раньше olderThan
func (s *Store) StaleActiveCalls(ctx context.Context, olderThan time.Time) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&Conversation{}).
		Where("status = ? AND started_at < ?", StatusActive, olderThan.UTC()).
		Order("id").
		Pluck("call_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("stale calls: %w", err)
	}
	return ids, nil
}

// Log пишет событие в журнал звонков. Ошибка записи только логируется.
func (s *Store) Log(ctx context.Context, level, event, details, callID string) {
	entry := &CallLog{
		Timestamp: s.now(),
		Level:     level,
		Event:     event,
		Details:   details,
		CallID:    callID,
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		s.logger.WithError(err).WithField("event", event).Warn("Не удалось записать событие звонка")
	}
}

// Conversations последние разговоры, новые первыми
func (s *Store) Conversations(ctx context.Context, limit, offset int) ([]Conversation, error) {
	var convs []Conversation
	err := s.db.WithContext(ctx).
		Order("started_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&convs).Error
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return convs, nil
}

// Conversation разговор по id
func (s *Store) Conversation(ctx context.Context, id uint) (*Conversation, error) {
	var conv Conversation
	err := s.db.WithContext(ctx).First(&conv, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("conversation %d: %w", id, ErrCallNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &conv, nil
}

// ConversationByCallID разговор по call id
func (s *Store) ConversationByCallID(ctx context.Context, callID string) (*Conversation, error) {
	return findCall(s.db.WithContext(ctx), callID)
}

// Messages все реплики разговора по порядку
func (s *Store) Messages(ctx context.Context, conversationID uint) ([]Message, error) {
	var msgs []Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// References ссылки ответа на данные обогащения
func (s *Store) References(ctx context.Context, messageID uint) ([]MessageReference, error) {
	var refs []MessageReference
	err := s.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("position").
		Find(&refs).Error
	if err != nil {
		return nil, fmt.Errorf("list references: %w", err)
	}
	return refs, nil
}

// Logs последние события, при непустом callID только по звонку
func (s *Store) Logs(ctx context.Context, callID string, limit int) ([]CallLog, error) {
	q := s.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if callID != "" {
		q = q.Where("call_id = ?", callID)
	}

	var logs []CallLog
	if err := q.Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	return logs, nil
}

func findCall(db *gorm.DB, callID string) (*Conversation, error) {
	var conv Conversation
	err := db.Where("call_id = ?", callID).Order("id DESC").First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s: %w", callID, ErrCallNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find call %s: %w", callID, err)
	}
	return &conv, nil
}
