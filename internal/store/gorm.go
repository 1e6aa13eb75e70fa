package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"conductor/internal/spec"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type consumerEntity struct {
	ID         string `gorm:"primaryKey;size:36"`
	BrokerHost string
	BrokerPort int
	Topic      string
	GroupID    string
	ClientID   string
	AutoStart  bool
	Status     string
	LastError  string
	Processors []processorEntity `gorm:"foreignKey:ConsumerID;constraint:OnDelete:CASCADE"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (consumerEntity) TableName() string { return "consumer_specs" }

type processorEntity struct {
	ID         string `gorm:"primaryKey;size:36"`
	ConsumerID string `gorm:"index;size:36"`
	Position   int
	Type       string
	Config     string // JSON-encoded opaque config
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (processorEntity) TableName() string { return "processor_configs" }

// Gorm is the durable Store. The DSN scheme picks the dialect: postgres URLs
// go to pgx, anything else is treated as a sqlite path.
type Gorm struct {
	db *gorm.DB
}

func OpenGorm(dsn string) (*Gorm, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err := db.AutoMigrate(&consumerEntity{}, &processorEntity{}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return &Gorm{db: db}, nil
}

func (g *Gorm) Create(s *spec.ConsumerSpec) error {
	ent, err := toEntity(s)
	if err != nil {
		return err
	}
	err = g.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&consumerEntity{}).Where("id = ?", s.ID).Count(&count).Error; err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
		if count > 0 {
			return fmt.Errorf("%w: id %s", ErrConflict, s.ID)
		}
		if err := tx.Create(ent).Error; err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.CreatedAt, s.UpdatedAt = ent.CreatedAt, ent.UpdatedAt
	return nil
}

func (g *Gorm) Get(id string) (*spec.ConsumerSpec, error) {
	var ent consumerEntity
	err := g.db.Preload("Processors", func(db *gorm.DB) *gorm.DB {
		return db.Order("position")
	}).First(&ent, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return fromEntity(&ent)
}

func (g *Gorm) List() ([]*spec.ConsumerSpec, error) {
	var ents []consumerEntity
	err := g.db.Preload("Processors", func(db *gorm.DB) *gorm.DB {
		return db.Order("position")
	}).Order("created_at").Find(&ents).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	out := make([]*spec.ConsumerSpec, 0, len(ents))
	for i := range ents {
		s, err := fromEntity(&ents[i])
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (g *Gorm) Update(id string, p spec.Patch) (*spec.ConsumerSpec, error) {
	err := g.db.Transaction(func(tx *gorm.DB) error {
		var ent consumerEntity
		if err := tx.First(&ent, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
		updates := map[string]any{}
		if p.BrokerHost != nil {
			updates["broker_host"] = *p.BrokerHost
		}
		if p.BrokerPort != nil {
			updates["broker_port"] = *p.BrokerPort
		}
		if p.Topic != nil {
			updates["topic"] = *p.Topic
		}
		if p.GroupID != nil {
			updates["group_id"] = *p.GroupID
		}
		if len(updates) > 0 {
			if err := tx.Model(&ent).Updates(updates).Error; err != nil {
				return fmt.Errorf("%w: %v", ErrIO, err)
			}
		}
		if p.Processors != nil {
			if err := tx.Where("consumer_id = ?", id).Delete(&processorEntity{}).Error; err != nil {
				return fmt.Errorf("%w: %v", ErrIO, err)
			}
			for i, pc := range *p.Processors {
				pid := pc.ID
				if pid == "" {
					pid = uuid.NewString()
				}
				raw, err := json.Marshal(pc.Config)
				if err != nil {
					return fmt.Errorf("%w: %v", ErrIO, err)
				}
				pe := processorEntity{ID: pid, ConsumerID: id, Position: i, Type: pc.Type, Config: string(raw)}
				if err := tx.Create(&pe).Error; err != nil {
					return fmt.Errorf("%w: %v", ErrIO, err)
				}
			}
		}
		// bump updated_at even for an empty patch
		return tx.Model(&ent).Update("updated_at", time.Now().UTC()).Error
	})
	if err != nil {
		return nil, err
	}
	return g.Get(id)
}

func (g *Gorm) Delete(id string) error {
	return g.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&consumerEntity{}, "id = ?", id)
		if res.Error != nil {
			return fmt.Errorf("%w: %v", ErrIO, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return tx.Where("consumer_id = ?", id).Delete(&processorEntity{}).Error
	})
}

func (g *Gorm) SetStatus(id string, st spec.Status, lastError string) error {
	res := g.db.Model(&consumerEntity{}).Where("id = ?", id).
		Updates(map[string]any{"status": string(st), "last_error": lastError})
	if res.Error != nil {
		return fmt.Errorf("%w: %v", ErrIO, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (g *Gorm) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toEntity(s *spec.ConsumerSpec) (*consumerEntity, error) {
	ent := &consumerEntity{
		ID:         s.ID,
		BrokerHost: s.BrokerHost,
		BrokerPort: s.BrokerPort,
		Topic:      s.Topic,
		GroupID:    s.GroupID,
		ClientID:   s.ClientID,
		AutoStart:  s.AutoStart,
		Status:     string(s.Status),
		LastError:  s.LastError,
	}
	for i, pc := range s.Processors {
		raw, err := json.Marshal(pc.Config)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIO, err)
		}
		ent.Processors = append(ent.Processors, processorEntity{
			ID:         pc.ID,
			ConsumerID: s.ID,
			Position:   i,
			Type:       pc.Type,
			Config:     string(raw),
		})
	}
	return ent, nil
}

func fromEntity(ent *consumerEntity) (*spec.ConsumerSpec, error) {
	s := &spec.ConsumerSpec{
		ID:         ent.ID,
		BrokerHost: ent.BrokerHost,
		BrokerPort: ent.BrokerPort,
		Topic:      ent.Topic,
		GroupID:    ent.GroupID,
		ClientID:   ent.ClientID,
		AutoStart:  ent.AutoStart,
		Status:     spec.Status(ent.Status),
		LastError:  ent.LastError,
		CreatedAt:  ent.CreatedAt,
		UpdatedAt:  ent.UpdatedAt,
	}
	for _, pe := range ent.Processors {
		var cfg map[string]any
		if pe.Config != "" {
			if err := json.Unmarshal([]byte(pe.Config), &cfg); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrIO, err)
			}
		}
		s.Processors = append(s.Processors, spec.ProcessorConfig{
			ID:        pe.ID,
			Type:      pe.Type,
			Config:    cfg,
			CreatedAt: pe.CreatedAt,
			UpdatedAt: pe.UpdatedAt,
		})
	}
	return s, nil
}
