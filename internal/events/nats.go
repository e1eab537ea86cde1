// Package events 將訪問事件交給下游統計管線
//
// 實作：
//   - NATSPublisher：發送到 JetStream（跨服務的統計消費者）
//   - StatsAggregator：程序內合併後批量累加資料庫統計欄位
//   - LogPublisher：只寫日誌（未設定 NATS 時）
//   - Fanout：同時交給多個 Publisher
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/koopa0/system-design/short-link/internal/link"
	"github.com/nats-io/nats.go"
)

// StreamConfig JetStream Stream 設定
type StreamConfig struct {
	Name     string
	Subject  string
	MaxAge   time.Duration
	MaxBytes int64
	Storage  string // file | memory
}

// NATSPublisher 發送 VisitEvent 到 JetStream
//
// 系統設計考量：
//   - 同步 Publish 等待 PubAck：事件已在 Tracker 的 worker 中處理，不影響重新導向延遲
//   - Msg-Id 使用「短碼 + 訪客 + 時間」，JetStream 的去重窗口內重送不會重複計數
type NATSPublisher struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	subject string
	logger  *slog.Logger
}

// NewNATSPublisher 連線 NATS 並確保 Stream 存在
func NewNATSPublisher(url string, cfg StreamConfig, logger *slog.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(
		url,
		nats.Name("short-link"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	p := &NATSPublisher{conn: conn, js: js, subject: cfg.Subject, logger: logger}
	if err := p.ensureStream(cfg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	return p, nil
}

// ensureStream 不存在則建立，已存在則更新設定
func (p *NATSPublisher) ensureStream(cfg StreamConfig) error {
	storage := nats.FileStorage
	if cfg.Storage == "memory" {
		storage = nats.MemoryStorage
	}

	streamCfg := &nats.StreamConfig{
		Name:       cfg.Name,
		Subjects:   []string{cfg.Subject},
		Storage:    storage,
		MaxAge:     cfg.MaxAge,
		MaxBytes:   cfg.MaxBytes,
		Replicas:   1,
		Duplicates: 2 * time.Minute,
	}

	_, err := p.js.StreamInfo(cfg.Name)
	if errors.Is(err, nats.ErrStreamNotFound) {
		if _, err := p.js.AddStream(streamCfg); err != nil {
			return fmt.Errorf("add stream: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("stream info: %w", err)
	}

	if _, err := p.js.UpdateStream(streamCfg); err != nil {
		return fmt.Errorf("update stream: %w", err)
	}
	return nil
}

// Publish 發送事件
func (p *NATSPublisher) Publish(ctx context.Context, event link.VisitEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := nats.NewMsg(p.subject)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, messageID(event))

	if _, err := p.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Close 排空並關閉連線
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

func messageID(e link.VisitEvent) string {
	return fmt.Sprintf("%s|%s|%s|%d", e.FullShortURL, e.VisitorID, e.ClientIP, e.Timestamp.UnixNano())
}
