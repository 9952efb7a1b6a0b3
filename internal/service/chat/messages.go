package chat

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/singleflight"

	"github.com/zhouzirui/nur-al-ilm/backend/internal/model/chat"
	"github.com/zhouzirui/nur-al-ilm/backend/internal/observability"
	"github.com/zhouzirui/nur-al-ilm/backend/internal/storage"
)

var (
	ErrMessageNotFound     = errors.New("message not found")
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrNotTranslatable     = errors.New("only assistant answers can be translated")
	ErrTranslationFailed   = errors.New("translation failed")
	ErrTranslatorDisabled  = errors.New("translation unavailable")
	ErrAudioUnavailable    = errors.New("audio unavailable")
	ErrSynthesizerDisabled = errors.New("speech synthesis unavailable")
	ErrInvalidAudio        = errors.New("audio must be base64 encoded")
)

// collaboratorTimeout bounds a shared translation or synthesis run. The run is
// detached from the requesting context so one disconnecting caller does not
// fail the others waiting on it.
const collaboratorTimeout = 90 * time.Second

func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), collaboratorTimeout)
}

// MessageStore is the ordered message log of one session together with its
// per-message translation and audio caches.
type MessageStore struct {
	mu       sync.RWMutex
	messages []chat.Message
	// translatingID and synthesizingID name the message currently being worked on.
	translatingID  string
	synthesizingID string

	store storage.Store
	key   string
	now   func() time.Time

	translator Translator
	speech     SpeechSynthesizer

	flights     singleflight.Group
	translateMu sync.Mutex
	speechMu    sync.Mutex
	persistMu   sync.Mutex

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func newMessageStore(store storage.Store, key string, now func() time.Time, translator Translator, speech SpeechSynthesizer) *MessageStore {
	return &MessageStore{
		store:      store,
		key:        key,
		now:        now,
		translator: translator,
		speech:     speech,
		entropy:    ulid.Monotonic(rand.New(rand.NewSource(now().UnixNano())), 0),
	}
}

func (m *MessageStore) newID() string {
	m.idMu.Lock()
	defer m.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(m.now()), m.entropy).String()
}

// NewMessage builds a message with a fresh id and the current timestamp.
func (m *MessageStore) NewMessage(role chat.Role, content string) chat.Message {
	return chat.Message{
		ID:              m.newID(),
		Role:            role,
		Content:         content,
		Timestamp:       m.now().UnixMilli(),
		DisplayLanguage: chat.LanguageOriginal,
	}
}

// Messages returns a copy of the log.
func (m *MessageStore) Messages() []chat.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneMessages(m.messages)
}

// Get returns a copy of the message with the given id.
func (m *MessageStore) Get(id string) (chat.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx := m.indexLocked(id)
	if idx < 0 {
		return chat.Message{}, ErrMessageNotFound
	}
	return m.messages[idx].Clone(), nil
}

// Pending reports the message ids with a translation or synthesis in flight.
func (m *MessageStore) Pending() (translating, synthesizing string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.translatingID, m.synthesizingID
}

// Append inserts msg at the tail and persists the log. Timestamps never go
// backwards within a log.
func (m *MessageStore) Append(ctx context.Context, msg chat.Message) chat.Message {
	m.mu.Lock()
	if msg.ID == "" {
		msg.ID = m.newID()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = m.now().UnixMilli()
	}
	if n := len(m.messages); n > 0 && msg.Timestamp < m.messages[n-1].Timestamp {
		msg.Timestamp = m.messages[n-1].Timestamp
	}
	if msg.DisplayLanguage == "" {
		msg.DisplayLanguage = chat.LanguageOriginal
	}
	m.messages = append(m.messages, msg.Clone())
	m.mu.Unlock()

	m.persist(ctx)
	return msg
}

// replace swaps the whole log without persisting it.
func (m *MessageStore) replace(messages []chat.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = cloneMessages(messages)
}

// Reset replaces the log and persists it.
func (m *MessageStore) Reset(ctx context.Context, messages ...chat.Message) {
	m.replace(messages)
	m.persist(ctx)
}

// Clear replaces the log in memory and erases the persisted history.
func (m *MessageStore) Clear(ctx context.Context, messages ...chat.Message) {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.replace(messages)
	if err := m.store.Remove(ctx, m.key); err != nil {
		log.Printf("[session] failed to erase history %s: %v", m.key, err)
	}
}

// SetDisplayLanguage switches the rendered language of a message, translating
// on a cache miss. A failed translation leaves the message untouched.
func (m *MessageStore) SetDisplayLanguage(ctx context.Context, id, label string) (chat.Message, error) {
	canonical, ok := chat.CanonicalLanguage(label)
	if !ok {
		return chat.Message{}, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, label)
	}

	m.mu.Lock()
	idx := m.indexLocked(id)
	if idx < 0 {
		m.mu.Unlock()
		return chat.Message{}, ErrMessageNotFound
	}
	msg := &m.messages[idx]
	if _, cached := msg.Translations[canonical]; canonical == chat.LanguageOriginal || cached {
		msg.DisplayLanguage = canonical
		out := msg.Clone()
		m.mu.Unlock()
		m.persist(ctx)
		return out, nil
	}
	if msg.Role != chat.RoleBot {
		m.mu.Unlock()
		return chat.Message{}, ErrNotTranslatable
	}
	content := msg.Content
	m.mu.Unlock()

	if m.translator == nil {
		return chat.Message{}, ErrTranslatorDisabled
	}

	_, err, _ := m.flights.Do("translate:"+id+":"+canonical, func() (any, error) {
		runCtx, cancel := detached(ctx)
		defer cancel()
		return nil, m.translate(runCtx, id, canonical, content)
	})
	if err != nil {
		if current, getErr := m.Get(id); getErr == nil {
			return current, err
		}
		return chat.Message{}, err
	}
	return m.Get(id)
}

// translate runs at most one translator call at a time per session.
func (m *MessageStore) translate(ctx context.Context, id, label, content string) error {
	m.translateMu.Lock()
	defer m.translateMu.Unlock()

	m.mu.Lock()
	idx := m.indexLocked(id)
	if idx < 0 {
		m.mu.Unlock()
		return ErrMessageNotFound
	}
	if _, cached := m.messages[idx].Translations[label]; cached {
		m.messages[idx].DisplayLanguage = label
		m.mu.Unlock()
		m.persist(ctx)
		return nil
	}
	m.translatingID = id
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.translatingID = ""
		m.mu.Unlock()
	}()

	ctx, span := observability.StartSpan(ctx, "translator.translate")
	start := time.Now()
	text, err := m.translator.Translate(ctx, content, label)
	if err == nil && strings.TrimSpace(text) == "" {
		err = errors.New("empty translation")
	}
	observability.RecordCollaboratorCall("translator", err, time.Since(start))
	observability.EndSpan(span, err)
	if err != nil {
		log.Printf("[session] translation of %s to %s failed: %v", id, label, err)
		return fmt.Errorf("%w: %w", ErrTranslationFailed, err)
	}

	m.mu.Lock()
	idx = m.indexLocked(id)
	if idx < 0 {
		m.mu.Unlock()
		return ErrMessageNotFound
	}
	msg := &m.messages[idx]
	if msg.Translations == nil {
		msg.Translations = make(map[string]string)
	}
	msg.Translations[label] = text
	msg.DisplayLanguage = label
	m.mu.Unlock()

	m.persist(ctx)
	return nil
}

// AttachAudio overwrites the cached audio of a message. The audio is recorded
// as belonging to the currently displayed language.
func (m *MessageStore) AttachAudio(ctx context.Context, id, data string) error {
	if _, err := base64.StdEncoding.DecodeString(data); err != nil || data == "" {
		return ErrInvalidAudio
	}

	m.mu.Lock()
	idx := m.indexLocked(id)
	if idx < 0 {
		m.mu.Unlock()
		return ErrMessageNotFound
	}
	msg := &m.messages[idx]
	msg.AudioData = data
	msg.AudioLanguage = msg.SelectedLanguage()
	m.mu.Unlock()

	m.persist(ctx)
	return nil
}

// RequestAudio returns cached audio for the displayed language or synthesizes
// text (the displayed text when empty). Absence is reported as ErrAudioUnavailable.
func (m *MessageStore) RequestAudio(ctx context.Context, id, text string) (string, error) {
	m.mu.RLock()
	idx := m.indexLocked(id)
	if idx < 0 {
		m.mu.RUnlock()
		return "", ErrMessageNotFound
	}
	msg := m.messages[idx]
	if audio, ok := msg.CachedAudio(); ok {
		m.mu.RUnlock()
		return audio, nil
	}
	label := msg.SelectedLanguage()
	if strings.TrimSpace(text) == "" {
		text = msg.DisplayContent()
	}
	m.mu.RUnlock()

	if m.speech == nil {
		return "", ErrSynthesizerDisabled
	}

	v, err, _ := m.flights.Do("audio:"+id+":"+label, func() (any, error) {
		runCtx, cancel := detached(ctx)
		defer cancel()
		return m.synthesize(runCtx, id, label, text)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *MessageStore) synthesize(ctx context.Context, id, label, text string) (string, error) {
	m.speechMu.Lock()
	defer m.speechMu.Unlock()

	m.mu.Lock()
	idx := m.indexLocked(id)
	if idx < 0 {
		m.mu.Unlock()
		return "", ErrMessageNotFound
	}
	if m.messages[idx].AudioData != "" && m.messages[idx].AudioLanguage == label {
		audio := m.messages[idx].AudioData
		m.mu.Unlock()
		return audio, nil
	}
	m.synthesizingID = id
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.synthesizingID = ""
		m.mu.Unlock()
	}()

	ctx, span := observability.StartSpan(ctx, "speech.synthesize")
	start := time.Now()
	audio, err := m.speech.Synthesize(ctx, text)
	observability.RecordCollaboratorCall("speech", err, time.Since(start))
	observability.EndSpan(span, err)
	if err != nil {
		log.Printf("[session] speech synthesis for %s failed: %v", id, err)
		return "", fmt.Errorf("%w: %w", ErrAudioUnavailable, err)
	}
	if audio == "" {
		return "", ErrAudioUnavailable
	}

	m.mu.Lock()
	if idx = m.indexLocked(id); idx >= 0 {
		m.messages[idx].AudioData = audio
		m.messages[idx].AudioLanguage = label
	}
	m.mu.Unlock()

	m.persist(ctx)
	return audio, nil
}

// persist writes the current log. The snapshot is taken after acquiring
// persistMu so the last write always reflects the latest state.
func (m *MessageStore) persist(ctx context.Context) {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.RLock()
	payload, err := EncodeLog(m.messages)
	m.mu.RUnlock()
	if err != nil {
		log.Printf("[session] failed to encode history %s: %v", m.key, err)
		return
	}
	if err := m.store.Set(context.WithoutCancel(ctx), m.key, payload); err != nil {
		log.Printf("[session] failed to persist history %s: %v", m.key, err)
	}
}

func (m *MessageStore) indexLocked(id string) int {
	for i := len(m.messages) - 1; i >= 0; i-- {
		if m.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func cloneMessages(in []chat.Message) []chat.Message {
	out := make([]chat.Message, len(in))
	for i, msg := range in {
		out[i] = msg.Clone()
	}
	return out
}
