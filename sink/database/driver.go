package database

import (
	"context"
	"strings"
	"sync"
	"time"

	"conductor/extract"
	"conductor/sink"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const defaultTable = "consumer_records"

type Config struct {
	DSN   string
	Table string
}

// Row is the shape of one synced record.
type Row struct {
	ID        uint   `gorm:"primaryKey"`
	Topic     string `gorm:"index"`
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
	CreatedAt time.Time
}

// driver inserts one row per record. The connection is established on first
// use; the table is migrated then.
type driver struct {
	cfg Config

	mu sync.Mutex
	db *gorm.DB
}

func (d *driver) Process(ctx context.Context, r *extract.Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		if err := d.open(); err != nil {
			return err
		}
	}
	row := Row{
		Topic:     r.Topic,
		Partition: r.Partition,
		Offset:    r.Offset,
		Key:       r.Key,
		Value:     r.Value,
		Timestamp: r.Timestamp,
	}
	return d.db.WithContext(ctx).Table(d.cfg.Table).Create(&row).Error
}

func (d *driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		return nil
	}
	sqlDB, err := d.db.DB()
	d.db = nil
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// must be called with d.mu held.
func (d *driver) open() error {
	db, err := gorm.Open(Dialector(d.cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}
	if err := db.Table(d.cfg.Table).AutoMigrate(&Row{}); err != nil {
		return err
	}
	d.db = db
	return nil
}

// Dialector picks the gorm driver from the DSN scheme: postgres URLs go to
// pgx, anything else is treated as a sqlite path.
func Dialector(dsn string) gorm.Dialector {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return postgres.Open(dsn)
	}
	return sqlite.Open(dsn)
}

/*──────── auto-register ───────*/
func init() {
	sink.Register("database_sync", func(config map[string]any) (sink.Adapter, error) {
		dsn, err := sink.StringField(config, "db_dsn")
		if err != nil {
			return nil, err
		}
		table, err := sink.OptStringField(config, "table", defaultTable)
		if err != nil {
			return nil, err
		}
		return &driver{cfg: Config{DSN: dsn, Table: table}}, nil
	})
}
