// Package contextstore implements the per-chat persistent conversation
// context: load-or-create, write-back caching with TTL eviction, dialogue
// round trimming, and the custom-prompt mutators.
package contextstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// ToolSchemaSource is the read-only facade the tool registry hands to the
// context store, resolving the cyclic context<->tools dependency into a
// one-way edge (design notes).
type ToolSchemaSource interface {
	ToolsSchema() []byte
}

// Config carries the subset of system.json's context_manager section the
// store needs.
type Config struct {
	CorePrompt                 string          `yaml:"core_prompt"`
	DefaultModel               string          `yaml:"default_model"`
	DefaultToolsCall           bool            `yaml:"default_tools_call"`
	ChatMode                   models.ChatMode `yaml:"chat_mode"`
	MaxUserMessagesPerChat     int             `yaml:"max_user_messages_per_chat"`
	MaxTokens                  int             `yaml:"max_tokens"`
	Temperature                float64         `yaml:"temperature"`
	Stream                     bool            `yaml:"stream"`
	CacheInactiveUnloadSeconds int64           `yaml:"cache_inactive_unload_seconds"`
	HistoryDir                 string          `yaml:"history_dir"`
}

// Store is the single Context store instance shared by the workflow engine,
// the command handler, and (through ToolSchemaSource) the tool registry.
type Store struct {
	cfg        Config
	tools      ToolSchemaSource
	logger     *slog.Logger
	dir        string

	mu    sync.Mutex
	cache map[string]*models.ConversationContext

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Store. It does not start the eviction daemon; call Run.
func New(cfg Config, tools ToolSchemaSource, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	dir := cfg.HistoryDir
	if dir == "" {
		dir = filepath.Join("chat", "history")
	}
	return &Store{
		cfg:    cfg,
		tools:  tools,
		logger: logger.With("component", "context_store"),
		dir:    dir,
		cache:  make(map[string]*models.ConversationContext),
		stopCh: make(chan struct{}),
	}
}

// Run starts the 60s eviction daemon. It returns once ctx is cancelled,
// after flushing every dirty cached context.
func (s *Store) Run(ctx context.Context) {
	s.wg.Add(1)
	defer s.wg.Done()

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.flushAll()
			return
		case <-s.stopCh:
			s.flushAll()
			return
		case <-ticker.C:
			s.evictInactive()
		}
	}
}

// Stop signals Run to exit and waits for it to finish flushing.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Store) evictInactive() {
	cutoff := time.Duration(s.cfg.CacheInactiveUnloadSeconds) * time.Second
	if cutoff <= 0 {
		return
	}
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for chatID, cc := range s.cache {
		if now.Sub(cc.LastAccess) < cutoff {
			continue
		}
		if cc.Dirty {
			if err := s.writeToDisk(cc); err != nil {
				s.logger.Warn("flush on eviction failed", "chat_id", chatID, "error", err)
				continue
			}
		}
		delete(s.cache, chatID)
		s.logger.Debug("evicted inactive context", "chat_id", chatID)
	}
}

func (s *Store) flushAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for chatID, cc := range s.cache {
		if !cc.Dirty {
			continue
		}
		if err := s.writeToDisk(cc); err != nil {
			s.logger.Warn("flush on shutdown failed", "chat_id", chatID, "error", err)
		}
	}
}

// Get returns the conversation context for chatID, loading or creating it
// as needed (spec §4.1 load path). The returned value is a clone safe for
// the caller to read without holding the store's lock.
func (s *Store) Get(chatID string) (*models.ConversationContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cc, err := s.getLocked(chatID)
	if err != nil {
		return nil, err
	}
	return cc.Clone(), nil
}

// getLocked returns the live, cached context (mu must be held), loading or
// creating it first.
func (s *Store) getLocked(chatID string) (*models.ConversationContext, error) {
	if cc, ok := s.cache[chatID]; ok {
		cc.LastAccess = time.Now()
		return cc, nil
	}

	cc, err := s.loadFromDisk(chatID)
	if err != nil {
		s.logger.Warn("context file load failed, using defaults", "chat_id", chatID, "error", err)
		cc = nil
	}
	if cc == nil {
		cc = s.newDefault(chatID)
		cc.Dirty = true
	}
	cc.LastAccess = time.Now()
	s.cache[chatID] = cc
	return cc, nil
}

func (s *Store) newDefault(chatID string) *models.ConversationContext {
	mode := s.cfg.ChatMode
	if mode == "" {
		mode = models.ChatModeLLM
	}
	cc := &models.ConversationContext{
		ChatID:      chatID,
		ChatMode:    mode,
		ToolsCall:   s.cfg.DefaultToolsCall,
		Model:       s.cfg.DefaultModel,
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
		Stream:      s.cfg.Stream,
		Messages: []models.Message{
			{Role: models.RoleSystem, Content: models.NewTextContent(s.cfg.CorePrompt), CreatedAt: time.Now()},
		},
	}
	if s.tools != nil {
		cc.ToolsSchema = s.tools.ToolsSchema()
	}
	return cc
}

// Update appends a user or assistant message entry and re-enforces the
// trimming invariants (spec §4.1 write path).
func (s *Store) Update(chatID string, entry models.Message) error {
	if entry.Role != models.RoleUser && entry.Role != models.RoleAssistant {
		return fmt.Errorf("contextstore: update rejects role %q, only user/assistant allowed", entry.Role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cc, err := s.getLocked(chatID)
	if err != nil {
		return err
	}

	if entry.Role == models.RoleUser {
		entry.Content = collapseUserContent(entry.Content)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	cc.Messages = append(cc.Messages, entry)
	cc.Dirty = true
	cc.LastAccess = time.Now()
	cc.Messages = trimToLimit(cc.Messages, s.cfg.MaxUserMessagesPerChat, s.logger)
	return nil
}

// collapseUserContent implements the user-content extraction rule: a plain
// string passes through; a parts list is kept if it carries any text,
// otherwise collapsed to an image-count placeholder.
func collapseUserContent(c models.Content) models.Content {
	if !c.IsParts() {
		return c
	}
	if c.HasText() {
		return c
	}
	n := c.ImageCount()
	switch n {
	case 0:
		return models.NewTextContent("")
	case 1:
		return models.NewTextContent("[图片消息]")
	default:
		return models.NewTextContent(fmt.Sprintf("[%d张图片]", n))
	}
}

// withReload implements the flush-evict-reload-apply-writethrough-repopulate
// pattern shared by every mutator in spec §4.1 paragraph 3.
func (s *Store) withReload(chatID string, apply func(cc *models.ConversationContext)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cc, ok := s.cache[chatID]; ok && cc.Dirty {
		if err := s.writeToDisk(cc); err != nil {
			s.logger.Warn("flush before mutator failed", "chat_id", chatID, "error", err)
		}
	}
	delete(s.cache, chatID)

	cc, err := s.loadFromDisk(chatID)
	if err != nil {
		s.logger.Warn("context file load failed, using defaults", "chat_id", chatID, "error", err)
		cc = nil
	}
	if cc == nil {
		cc = s.newDefault(chatID)
	}

	apply(cc)
	cc.Dirty = true
	if err := s.writeToDisk(cc); err != nil {
		return err
	}
	cc.LastAccess = time.Now()
	s.cache[chatID] = cc
	return nil
}

// SetModel sets the model used for chatID's future model calls. Repeated
// calls with the same model are a no-op (R2) but still go through the
// reload/writethrough cycle to keep behavior uniform.
func (s *Store) SetModel(chatID, model string) error {
	return s.withReload(chatID, func(cc *models.ConversationContext) {
		cc.Model = model
	})
}

// SetToolsCall toggles whether workflow C attaches the tool schema.
func (s *Store) SetToolsCall(chatID string, enabled bool) error {
	return s.withReload(chatID, func(cc *models.ConversationContext) {
		cc.ToolsCall = enabled
	})
}

// SetToolsSchema overwrites the cached tool schema bytes, used when the
// tool registry reloads its plug-ins.
func (s *Store) SetToolsSchema(chatID string, schema []byte) error {
	return s.withReload(chatID, func(cc *models.ConversationContext) {
		cc.ToolsSchema = schema
	})
}

// SetCustomPrompt sets the system message to text + "\n" + core_prompt, or
// to core_prompt alone if text is empty.
func (s *Store) SetCustomPrompt(chatID, text string) error {
	return s.withReload(chatID, func(cc *models.ConversationContext) {
		cc.CustomPrompt = text
		applySystemMessage(cc, s.cfg.CorePrompt)
	})
}

// DeleteCustomPrompt resets the system message to core_prompt alone.
func (s *Store) DeleteCustomPrompt(chatID string) error {
	return s.withReload(chatID, func(cc *models.ConversationContext) {
		cc.CustomPrompt = ""
		applySystemMessage(cc, s.cfg.CorePrompt)
	})
}

// GetCustomPrompt returns the chat's custom prompt and whether one is set
// (R1).
func (s *Store) GetCustomPrompt(chatID string) (string, bool, error) {
	cc, err := s.Get(chatID)
	if err != nil {
		return "", false, err
	}
	return cc.CustomPrompt, cc.CustomPrompt != "", nil
}

func applySystemMessage(cc *models.ConversationContext, corePrompt string) {
	text := corePrompt
	if cc.CustomPrompt != "" {
		text = cc.CustomPrompt + "\n" + corePrompt
	}
	sys := models.Message{Role: models.RoleSystem, Content: models.NewTextContent(text), CreatedAt: time.Now()}
	if len(cc.Messages) > 0 && cc.Messages[0].IsSystem() {
		cc.Messages[0] = sys
		return
	}
	cc.Messages = append([]models.Message{sys}, cc.Messages...)
}

// Clear deletes chat_id's context from memory and from disk. A missing
// file is not an error.
func (s *Store) Clear(chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, chatID)

	if err := os.Remove(s.pathFor(chatID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("contextstore: clear %s: %w", chatID, err)
	}
	return nil
}

// Status reports a point-in-time summary for diagnostics/commands.
type Status struct {
	CachedChats int
	DirtyChats  int
}

func (s *Store) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{CachedChats: len(s.cache)}
	for _, cc := range s.cache {
		if cc.Dirty {
			st.DirtyChats++
		}
	}
	return st
}

// --- persistence ---

func (s *Store) pathFor(chatID string) string {
	return filepath.Join(s.dir, safeFilename(chatID)+".json")
}

// safeFilename sanitizes chatID into a filesystem-safe name: illegal path
// characters become "_"; names over 200 chars are truncated and suffixed
// with the first 8 hex digits of the MD5 of the original chat_id, so two
// long chat_ids differing only past the truncation point don't collide.
func safeFilename(chatID string) string {
	replacer := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
		"\"", "_", "<", "_", ">", "_", "|", "_",
	)
	name := replacer.Replace(chatID)
	if len(name) <= 200 {
		return name
	}
	sum := md5.Sum([]byte(chatID))
	suffix := hex.EncodeToString(sum[:])[:8]
	return name[:200] + "_" + suffix
}

func (s *Store) loadFromDisk(chatID string) (*models.ConversationContext, error) {
	data, err := os.ReadFile(s.pathFor(chatID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var cc models.ConversationContext
	if err := json.Unmarshal(data, &cc); err != nil {
		return nil, fmt.Errorf("contextstore: decode %s: %w", chatID, err)
	}
	return &cc, nil
}

func (s *Store) writeToDisk(cc *models.ConversationContext) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("contextstore: mkdir %s: %w", s.dir, err)
	}
	data, err := json.MarshalIndent(cc, "", "  ")
	if err != nil {
		return fmt.Errorf("contextstore: encode %s: %w", cc.ChatID, err)
	}
	tmp := s.pathFor(cc.ChatID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("contextstore: write %s: %w", cc.ChatID, err)
	}
	if err := os.Rename(tmp, s.pathFor(cc.ChatID)); err != nil {
		return fmt.Errorf("contextstore: rename %s: %w", cc.ChatID, err)
	}
	cc.Dirty = false
	return nil
}
