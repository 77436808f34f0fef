package scylla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"github.com/Shpigford/dutch-auction/internal/config"
	"github.com/Shpigford/dutch-auction/internal/util"
)

// PreparedStatements holds the statements the repositories execute. The two
// conditional updates (FinalizeSale, MarkFulfilled) are lightweight
// transactions; everything else is a plain read or write.
type PreparedStatements struct {
	GetSaleState       *gocql.Query
	SeedSaleState      *gocql.Query
	FinalizeSale       *gocql.Query
	InsertNotification *gocql.Query
	InsertBySource     *gocql.Query
	ListNotifications  *gocql.Query
	CountBySource      *gocql.Query
	MarkFulfilled      *gocql.Query
	AvgTargetPrice     *gocql.Query
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.RWMutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	// Conditional updates read the applied row back at SERIAL.
	cluster.SerialConsistency = gocql.Serial
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if !cfg.IsDevelopment() {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 "/root/certs/ca.pem",
			CertPath:               "/root/certs/server.pem",
			KeyPath:                "/root/certs/server.key",
			EnableHostVerification: true,
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}

	if err := client.prepareStatements(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	util.Info("ScyllaDB client initialized with prepared statements",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (s *ScyllaClient) prepareStatements() error {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return nil
	}

	prepared := &PreparedStatements{}

	prepared.GetSaleState = s.Session.Query(`
        SELECT id, sold, sold_at, sale_price FROM sale_status WHERE id = ?`)

	prepared.SeedSaleState = s.Session.Query(`
        INSERT INTO sale_status (id, sold) VALUES (?, false) IF NOT EXISTS`)

	prepared.FinalizeSale = s.Session.Query(`
        UPDATE sale_status SET sold = true, sold_at = ?, sale_price = ?
        WHERE id = ? IF sold = false`)

	prepared.InsertNotification = s.Session.Query(`
        INSERT INTO price_notifications (
            auction_id, id, contact_encrypted, contact_dek, contact_key_id,
            target_price, source_hash, fulfilled, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, false, ?)`)

	prepared.InsertBySource = s.Session.Query(`
        INSERT INTO notifications_by_source (auction_id, source_hash, id, created_at)
        VALUES (?, ?, ?, ?)`)

	prepared.ListNotifications = s.Session.Query(`
        SELECT id, contact_encrypted, contact_dek, contact_key_id,
            target_price, source_hash, fulfilled, created_at
        FROM price_notifications WHERE auction_id = ?`)

	prepared.CountBySource = s.Session.Query(`
        SELECT count(*) FROM notifications_by_source
        WHERE auction_id = ? AND source_hash = ?`)

	prepared.MarkFulfilled = s.Session.Query(`
        UPDATE price_notifications SET fulfilled = true
        WHERE auction_id = ? AND id = ? IF fulfilled = false`)

	prepared.AvgTargetPrice = s.Session.Query(`
        SELECT avg(target_price) FROM price_notifications WHERE auction_id = ?`)

	s.Prepared = prepared
	s.isPrepared = true

	util.Info("ScyllaDB prepared statements created")
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...)
}

func (s *ScyllaClient) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

func (s *ScyllaClient) ExecuteWithRetry(query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := query.Exec(); err != nil {
			lastErr = err
			if i < maxRetries {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}
