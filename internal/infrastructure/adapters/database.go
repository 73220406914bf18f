package adapters

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/domain/integration"
)

const (
	defaultDBTable        = "integration_packets"
	defaultDBPollInterval = 10 * time.Second
	defaultDBBatchSize    = 100
	defaultDBTimeout      = 10 * time.Second
)

// packetRow is the exchange table layout the database adapter reads and
// writes. The envelope column holds the packet as JSON text.
type packetRow struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	PacketID  string    `gorm:"column:packet_id;size:64;index"`
	Source    string    `gorm:"column:source;size:255"`
	Envelope  string    `gorm:"column:envelope;type:text"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

// DatabaseAdapter exchanges packets through a shared database table: Send
// inserts a row, and a poller tails the table by its id column and fans new
// rows out to subscribers. Rows inserted before the adapter connected are
// skipped unless "from_beginning" is set.
//
// Registered for the "database" system type.
type DatabaseAdapter struct {
	*BaseAdapter

	driver        string
	dsn           string
	table         string
	pollInterval  time.Duration
	batchSize     int
	fromBeginning bool
	autoMigrate   bool
	timeout       time.Duration

	dbMu   sync.Mutex
	db     *gorm.DB
	stopCh chan struct{}
	wg     sync.WaitGroup
	cursor int64
}

// NewDatabaseAdapter creates a database adapter from its config. Recognized
// connection params: "dsn" (required), "driver" ("postgres" or "sqlite",
// inferred from the DSN when omitted), "table", "poll_interval",
// "batch_size", "from_beginning", "migrate" and "timeout".
func NewDatabaseAdapter(cfg *integration.IntegrationConfig, logger *zap.Logger) (*DatabaseAdapter, error) {
	dsn := cfg.StringParam("dsn", "")
	if dsn == "" {
		return nil, integration.NewConfigurationError(cfg.ID, "database adapter: a dsn parameter is required", nil)
	}

	driver := cfg.StringParam("driver", "")
	if driver == "" {
		if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
			driver = "postgres"
		} else {
			driver = "sqlite"
		}
	}
	if driver != "postgres" && driver != "sqlite" {
		return nil, integration.NewConfigurationError(cfg.ID, "database adapter: unsupported driver "+driver, nil)
	}

	return &DatabaseAdapter{
		BaseAdapter:   NewBaseAdapter(cfg, logger),
		driver:        driver,
		dsn:           dsn,
		table:         cfg.StringParam("table", defaultDBTable),
		pollInterval:  cfg.DurationParam("poll_interval", defaultDBPollInterval),
		batchSize:     cfg.IntParam("batch_size", defaultDBBatchSize),
		fromBeginning: cfg.BoolParam("from_beginning", false),
		autoMigrate:   cfg.BoolParam("migrate", true),
		timeout:       cfg.DurationParam("timeout", defaultDBTimeout),
	}, nil
}

// Initialize implements integration.Adapter.
func (a *DatabaseAdapter) Initialize(ctx context.Context) error {
	a.setService(integration.ServiceStatusReady)
	return nil
}

// Start implements integration.Adapter.
func (a *DatabaseAdapter) Start(ctx context.Context) error {
	a.setService(integration.ServiceStatusRunning)
	return nil
}

// Stop implements integration.Adapter.
func (a *DatabaseAdapter) Stop(ctx context.Context) error {
	_ = a.Disconnect(ctx)
	a.setService(integration.ServiceStatusOffline)
	return nil
}

// Connect implements integration.Adapter. It opens the connection pool,
// prepares the exchange table and starts the tailing poller.
func (a *DatabaseAdapter) Connect(ctx context.Context) error {
	a.dbMu.Lock()
	defer a.dbMu.Unlock()

	if a.db != nil {
		return nil
	}

	var dialector gorm.Dialector
	switch a.driver {
	case "postgres":
		dialector = postgres.Open(a.dsn)
	case "sqlite":
		dialector = sqlite.Open(a.dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return integration.NewConnectionError(a.ID(), "database adapter: opening connection", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return integration.NewConnectionError(a.ID(), "database adapter: opening connection", err)
	}
	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return integration.NewConnectionError(a.ID(), "database adapter: ping failed", err)
	}

	if a.autoMigrate {
		if err := db.Table(a.table).AutoMigrate(&packetRow{}); err != nil {
			sqlDB.Close()
			return integration.NewConnectionError(a.ID(), "database adapter: preparing table", err)
		}
	}

	var cursor int64
	if !a.fromBeginning {
		row := db.WithContext(ctx).Table(a.table).Select("COALESCE(MAX(id), 0)").Row()
		if err := row.Scan(&cursor); err != nil {
			sqlDB.Close()
			return integration.NewConnectionError(a.ID(), "database adapter: reading cursor", err)
		}
	}
	atomic.StoreInt64(&a.cursor, cursor)

	stop := make(chan struct{})
	a.db = db
	a.stopCh = stop
	a.wg.Add(1)
	go a.runPoller(stop)

	a.setConnection(integration.ConnectionStatusConnected)
	return nil
}

// Disconnect implements integration.Adapter.
func (a *DatabaseAdapter) Disconnect(ctx context.Context) error {
	a.dbMu.Lock()
	db := a.db
	a.db = nil
	if a.stopCh != nil {
		close(a.stopCh)
		a.stopCh = nil
	}
	a.dbMu.Unlock()

	a.wg.Wait()
	if db != nil {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	a.setConnection(integration.ConnectionStatusDisconnected)
	return nil
}

// Reconnect implements integration.Adapter.
func (a *DatabaseAdapter) Reconnect(ctx context.Context) error {
	_ = a.Disconnect(ctx)
	return a.Connect(ctx)
}

// TestConnection implements integration.Adapter.
func (a *DatabaseAdapter) TestConnection(ctx context.Context) (bool, error) {
	db := a.handle()
	if db == nil {
		return false, nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return false, err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Latency implements integration.Adapter by timing a ping.
func (a *DatabaseAdapter) Latency(ctx context.Context) (time.Duration, error) {
	db := a.handle()
	if db == nil {
		return 0, integration.NewConnectionError(a.ID(), "database adapter is not connected", nil)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return 0, err
	}

	start := time.Now()
	if err := sqlDB.PingContext(ctx); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// Health implements integration.Adapter.
func (a *DatabaseAdapter) Health(ctx context.Context) (integration.ServiceHealth, error) {
	return a.health(map[string]any{
		"driver": a.driver,
		"table":  a.table,
		"cursor": atomic.LoadInt64(&a.cursor),
	}), nil
}

// Send implements integration.Adapter by inserting the packet envelope as a
// new row.
func (a *DatabaseAdapter) Send(ctx context.Context, packet *integration.DataPacket, opts integration.SendOptions) error {
	db := a.handle()
	if db == nil {
		return integration.NewConnectionError(a.ID(), "database adapter is not connected", nil)
	}

	out := a.outbound(packet, opts)
	envelope, err := json.Marshal(out)
	if err != nil {
		return integration.NewValidationError(a.ID(), "database adapter: encoding packet", err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.sendTimeout(opts, a.timeout))
	defer cancel()

	row := packetRow{
		PacketID:  out.ID,
		Source:    out.Source,
		Envelope:  string(envelope),
		CreatedAt: time.Now(),
	}
	if err := db.WithContext(ctx).Table(a.table).Create(&row).Error; err != nil {
		a.noteError(err)
		return integration.NewCommunicationError(a.ID(), "database adapter: inserting packet", err)
	}
	a.markSent()
	return nil
}

func (a *DatabaseAdapter) handle() *gorm.DB {
	a.dbMu.Lock()
	defer a.dbMu.Unlock()
	return a.db
}

func (a *DatabaseAdapter) runPoller(stop <-chan struct{}) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			a.poll(context.Background())
		}
	}
}

// poll tails the exchange table from the cursor and fans new rows out.
func (a *DatabaseAdapter) poll(ctx context.Context) {
	db := a.handle()
	if db == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	cursor := atomic.LoadInt64(&a.cursor)
	var rows []packetRow
	err := db.WithContext(ctx).Table(a.table).
		Where("id > ?", cursor).
		Order("id").
		Limit(a.batchSize).
		Find(&rows).Error
	if err != nil {
		a.noteError(err)
		a.logger.Warn("tailing exchange table failed", zap.Error(err))
		return
	}

	for _, row := range rows {
		packet := inboundPacket(a.ID(), []byte(row.Envelope))
		if row.PacketID != "" {
			packet.ID = row.PacketID
		}
		packet.Metadata["row_id"] = strconv.FormatInt(row.ID, 10)
		a.dispatch(ctx, packet)
		atomic.StoreInt64(&a.cursor, row.ID)
	}
}

var _ integration.Adapter = (*DatabaseAdapter)(nil)
