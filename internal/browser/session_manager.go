package browser

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"messkit/internal/config"
	"messkit/internal/mangle"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotConnected is returned when a preview is requested without a browser.
var ErrNotConnected = errors.New("browser not connected")

// ErrSessionNotFound is returned for unknown preview ids.
var ErrSessionNotFound = errors.New("preview session not found")

// Session describes an exit URL opened in a real browser context.
type Session struct {
	ID        string    `json:"id"`
	UnitID    string    `json:"unit_id,omitempty"`
	TargetID  string    `json:"target_id,omitempty"`
	URL       string    `json:"url"`
	Title     string    `json:"title,omitempty"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type sessionRecord struct {
	meta Session
	page *rod.Page
}

// EngineSink receives preview facts.
type EngineSink interface {
	AddFacts(ctx context.Context, facts []mangle.Fact) error
}

// SessionManager owns the Chrome instance used to preview unit exits.
type SessionManager struct {
	cfg        config.BrowserConfig
	engine     EngineSink
	logger     *zap.Logger
	mu         sync.RWMutex
	browser    *rod.Browser
	sessions   map[string]*sessionRecord
	controlURL string
}

func NewSessionManager(cfg config.BrowserConfig, sink EngineSink, logger *zap.Logger) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionManager{
		cfg:      cfg,
		engine:   sink,
		logger:   logger,
		sessions: make(map[string]*sessionRecord),
	}
}

// Start connects to an existing Chrome or launches one with Rod's launcher.
// With neither debugger_url nor launch configured, Rod locates a local
// browser on its own.
func (m *SessionManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			return nil
		}
		m.logger.Warn("stale browser connection detected, reconnecting")
		_ = m.browser.Close()
		m.browser = nil
		m.controlURL = ""
		m.sessions = make(map[string]*sessionRecord)
	}

	controlURL := m.cfg.DebuggerURL
	if controlURL == "" {
		url, err := m.launch()
		if err != nil {
			return err
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	m.browser = browser
	m.controlURL = controlURL
	m.logger.Info("browser connected", zap.String("control_url", controlURL))
	return nil
}

func (m *SessionManager) launch() (string, error) {
	l := launcher.New().Headless(m.cfg.IsHeadless())
	if len(m.cfg.Launch) > 0 {
		l = l.Bin(m.cfg.Launch[0])
		for _, rawFlag := range m.cfg.Launch[1:] {
			flagStr := strings.TrimLeft(rawFlag, "-")
			name, val, hasVal := strings.Cut(flagStr, "=")
			if hasVal {
				l = l.Set(flags.Flag(name), val)
			} else {
				l = l.Set(flags.Flag(name))
			}
		}
	}
	url, err := l.Launch()
	if err != nil {
		return "", fmt.Errorf("launch chrome: %w", err)
	}
	return url, nil
}

// ControlURL returns the DevTools websocket URL of the connected browser.
func (m *SessionManager) ControlURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.controlURL
}

// IsConnected reports whether a browser is attached.
func (m *SessionManager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser != nil
}

// Shutdown closes every preview page and the browser.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, record := range m.sessions {
		if record.page != nil {
			_ = record.page.Close()
		}
		delete(m.sessions, id)
	}

	var err error
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
		m.logger.Info("browser shutdown complete")
	}
	m.controlURL = ""
	return err
}

// List returns preview metadata, oldest first.
func (m *SessionManager) List() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]Session, 0, len(m.sessions))
	for _, record := range m.sessions {
		results = append(results, record.meta)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.Before(results[j].CreatedAt)
	})
	return results
}

// GetSession returns preview metadata by id.
func (m *SessionManager) GetSession(id string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[id]
	if !ok {
		return Session{}, false
	}
	return rec.meta, true
}

// OpenPreview loads url for unitID in a fresh incognito page sized to the
// configured viewport. Navigation failures are recorded on the session
// rather than returned.
func (m *SessionManager) OpenPreview(ctx context.Context, unitID, url string) (*Session, error) {
	m.mu.RLock()
	browser := m.browser
	m.mu.RUnlock()
	if browser == nil {
		return nil, ErrNotConnected
	}

	incognito, err := browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}

	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             m.cfg.GetViewportWidth(),
		Height:            m.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		m.logger.Warn("failed to set viewport", zap.Error(err))
	}

	meta := Session{
		ID:        uuid.NewString(),
		UnitID:    unitID,
		TargetID:  string(page.TargetID),
		URL:       url,
		Status:    "loaded",
		CreatedAt: time.Now(),
	}

	nav := page.Context(ctx).Timeout(m.cfg.NavigationTimeout())
	if err := nav.Navigate(url); err != nil {
		meta.Status = "failed"
		meta.Error = err.Error()
	} else if err := nav.WaitLoad(); err != nil {
		meta.Status = "partial"
		meta.Error = err.Error()
	}
	if info, err := page.Info(); err == nil {
		meta.Title = info.Title
	}

	m.mu.Lock()
	m.sessions[meta.ID] = &sessionRecord{meta: meta, page: page}
	m.mu.Unlock()

	m.logger.Debug("exit preview opened",
		zap.String("unit", unitID),
		zap.String("url", url),
		zap.String("status", meta.Status))

	if m.engine != nil && meta.Status != "failed" {
		fact := mangle.Fact{
			Predicate: "preview_loaded",
			Args:      []interface{}{unitID, url, meta.Title},
			Timestamp: meta.CreatedAt,
		}
		if err := m.engine.AddFacts(ctx, []mangle.Fact{fact}); err != nil {
			m.logger.Debug("preview fact rejected", zap.Error(err))
		}
	}

	return &meta, nil
}

// ClosePreview closes a preview page.
func (m *SessionManager) ClosePreview(id string) error {
	m.mu.Lock()
	rec, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if rec.page != nil {
		return rec.page.Close()
	}
	return nil
}
