package health

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/xsxdot/aio-apm/pkg/monitoring/models"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// 支持的数据库驱动
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverMongoDB  = "mongodb"
)

// DatabaseConfig 数据库探针配置
type DatabaseConfig struct {
	Driver       string `yaml:"driver" validate:"omitempty,oneof=mysql postgres mongodb"`
	DSN          string `yaml:"dsn" validate:"required_with=Driver"`
	MaxOpenConns int    `yaml:"max_open_conns" validate:"gte=0"`
}

// NewDatabaseProbe 按驱动创建数据库探针。创建时不连接数据库，连接问题在探测时体现
func NewDatabaseProbe(config DatabaseConfig) (Probe, error) {
	switch config.Driver {
	case DriverMySQL, DriverPostgres:
		return NewSQLProbe(config)
	case DriverMongoDB:
		return NewMongoProbe(config.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", config.Driver)
	}
}

// SQLProbe 关系型数据库探针，Ping延迟加连接池使用率
type SQLProbe struct {
	db    *gorm.DB
	sqlDB *sql.DB
}

// NewSQLProbe 通过gorm打开mysql或postgres连接池
func NewSQLProbe(config DatabaseConfig) (*SQLProbe, error) {
	var dialector gorm.Dialector
	switch config.Driver {
	case DriverMySQL:
		dialector = mysql.Open(config.DSN)
	case DriverPostgres:
		dialector = postgres.Open(config.DSN)
	default:
		return nil, fmt.Errorf("unsupported sql driver: %s", config.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		DisableAutomaticPing: true,
		Logger:               logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", config.Driver, err)
	}
	return NewSQLProbeFromGorm(db, config.MaxOpenConns)
}

// NewSQLProbeFromGorm 复用已有的gorm连接
func NewSQLProbeFromGorm(db *gorm.DB, maxOpenConns int) (*SQLProbe, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	if maxOpenConns <= 0 {
		maxOpenConns = 20
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	return &SQLProbe{db: db, sqlDB: sqlDB}, nil
}

func (p *SQLProbe) Probe(ctx context.Context) (ProbeResult, error) {
	start := time.Now()
	if err := p.sqlDB.PingContext(ctx); err != nil {
		return ProbeResult{}, fmt.Errorf("ping database: %w", err)
	}
	latency := time.Since(start)

	stats := p.sqlDB.Stats()
	metrics := map[string]float64{
		"open_connections": float64(stats.OpenConnections),
		"wait_count":       float64(stats.WaitCount),
	}
	if stats.MaxOpenConnections > 0 {
		metrics[models.MetricDatabaseConnections] = 100 * float64(stats.InUse) / float64(stats.MaxOpenConnections)
	}
	return ProbeResult{ResponseTimeMs: milliseconds(latency), Metrics: metrics}, nil
}

func (p *SQLProbe) Close() error {
	return p.sqlDB.Close()
}

// MongoProbe MongoDB探针
type MongoProbe struct {
	client *mongo.Client
}

// NewMongoProbe 创建Mongo客户端，驱动在首次操作时才建立连接
func NewMongoProbe(uri string) (*MongoProbe, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	return &MongoProbe{client: client}, nil
}

func (p *MongoProbe) Probe(ctx context.Context) (ProbeResult, error) {
	start := time.Now()
	if err := p.client.Ping(ctx, readpref.Primary()); err != nil {
		return ProbeResult{}, fmt.Errorf("ping mongo: %w", err)
	}
	return ProbeResult{
		ResponseTimeMs: milliseconds(time.Since(start)),
		Metrics: map[string]float64{
			"sessions_in_progress": float64(p.client.NumberSessionsInProgress()),
		},
	}, nil
}

func (p *MongoProbe) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.client.Disconnect(ctx)
}

func milliseconds(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
