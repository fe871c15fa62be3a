package session

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
	"sync"
	"time"
)

// Identifier prefixes used on the wire.
const (
	PrefixSession = "ses"
	PrefixMessage = "msg"
	PrefixPart    = "prt"
	PrefixCall    = "call"
)

const (
	base62       = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	randomLength = 14
)

type Message struct {
	ID      string `json:"id"`
	Role    string `json:"role"` // "user", "assistant"
	Content string `json:"content"`
}

// Session is the process-scoped conversation identity. One process serves
// one request, so a Session lives exactly as long as the process.
type Session struct {
	ID       string    `json:"id"`
	Messages []Message `json:"messages"`

	ids *IDGenerator
}

// New creates a new session with a fresh "ses_" identifier.
func New() *Session {
	ids := NewIDGenerator(time.Now)
	return &Session{
		ID:       ids.Next(PrefixSession),
		Messages: []Message{},
		ids:      ids,
	}
}

// NewID returns a new identifier with the given prefix, ordered after every
// identifier this session produced before.
func (s *Session) NewID(prefix string) string {
	return s.ids.Next(prefix)
}

// AddMessage appends a message to the session history, assigning an ID when
// the message has none.
func (s *Session) AddMessage(msg Message) Message {
	if msg.ID == "" {
		msg.ID = s.NewID(PrefixMessage)
	}
	s.Messages = append(s.Messages, msg)
	return msg
}

// IDGenerator produces ascending identifiers: a 12 hex digit time/counter
// component followed by 14 random base62 characters.
type IDGenerator struct {
	mu      sync.Mutex
	now     func() time.Time
	last    int64
	counter int64
}

func NewIDGenerator(now func() time.Time) *IDGenerator {
	if now == nil {
		now = time.Now
	}
	return &IDGenerator{now: now}
}

// Next returns "<prefix>_<hex><random>".
func (g *IDGenerator) Next(prefix string) string {
	g.mu.Lock()
	ms := g.now().UnixMilli()
	if ms != g.last {
		g.last = ms
		g.counter = 0
	}
	g.counter++
	value := ms*0x1000 + g.counter
	g.mu.Unlock()

	var buf [6]byte
	for i := 0; i < 6; i++ {
		buf[i] = byte(value >> (40 - 8*i))
	}
	return prefix + "_" + hex.EncodeToString(buf[:]) + randomBase62(randomLength)
}

func randomBase62(n int) string {
	out := make([]byte, n)
	max := big.NewInt(int64(len(base62)))
	for i := range out {
		v, err := rand.Int(rand.Reader, max)
		if err != nil {
			out[i] = base62[i%len(base62)]
			continue
		}
		out[i] = base62[v.Int64()]
	}
	return string(out)
}
