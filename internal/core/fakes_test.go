package core

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/api/iterator"
	"gwi.com/chat-history/internal/logger"
	"gwi.com/chat-history/internal/store"
)

// fakeGateway is a scripted Gateway.
type fakeGateway struct {
	mu sync.Mutex

	notConfigured bool
	reply         string
	err           error

	fragments []string
	openErr   error // returned by CompleteStream
	failAfter int   // when > 0 the stream fails after this many fragments
	streamErr error

	title    string
	titleErr error

	calls       int
	gotHistory  []Turn
	gotMessage  string
	lastStream  *sliceStream
	titleCalled int
}

func (f *fakeGateway) Configured() bool { return !f.notConfigured }

func (f *fakeGateway) Complete(_ context.Context, history []Turn, message string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.gotHistory = append([]Turn(nil), history...)
	f.gotMessage = message
	return f.reply, f.err
}

func (f *fakeGateway) CompleteStream(ctx context.Context, history []Turn, message string) (Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.gotHistory = append([]Turn(nil), history...)
	f.gotMessage = message
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.lastStream = &sliceStream{ctx: ctx, frags: f.fragments, failAfter: f.failAfter, err: f.streamErr}
	return f.lastStream, nil
}

func (f *fakeGateway) GenerateTitle(_ context.Context, basis string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titleCalled++
	return f.title, f.titleErr
}

type sliceStream struct {
	ctx       context.Context
	frags     []string
	next      int
	failAfter int
	err       error
	closed    bool
}

func (s *sliceStream) Next() (string, error) {
	if s.closed {
		return "", errors.New("next on closed stream")
	}
	if err := s.ctx.Err(); err != nil {
		return "", E(CodeProviderError, "sliceStream", MsgProviderError, err)
	}
	if s.failAfter > 0 && s.next == s.failAfter {
		return "", s.err
	}
	if s.next >= len(s.frags) {
		return "", iterator.Done
	}
	f := s.frags[s.next]
	s.next++
	return f, nil
}

func (s *sliceStream) Close() { s.closed = true }

// recordingWriter collects what a client would have received.
type recordingWriter struct {
	begun    int
	userMsg  store.Message
	got      []string
	failOn   int // 1-based Write call that fails, 0 never
	onWrite  func(n int)
	panicOn  int
	beginErr error
}

func (w *recordingWriter) Begin(m store.Message) error {
	w.begun++
	w.userMsg = m
	return w.beginErr
}

func (w *recordingWriter) Write(frag string) error {
	n := len(w.got) + 1
	if w.panicOn == n {
		panic("writer exploded")
	}
	if w.onWrite != nil {
		w.onWrite(n)
	}
	if w.failOn == n {
		return errors.New("client went away")
	}
	w.got = append(w.got, frag)
	return nil
}

type fixture struct {
	store *store.SQLiteStore
	gw    *fakeGateway
	svc   *ChatService
	user  *store.User
	other *store.User
	chat  *store.Chat
}

func newFixture(t *testing.T, opts ChatOptions) *fixture {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "core.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	user, err := st.CreateUser(ctx, "alice@example.com", "x")
	require.NoError(t, err)
	other, err := st.CreateUser(ctx, "bob@example.com", "x")
	require.NoError(t, err)
	chat, err := st.CreateChat(ctx, user.ID, "")
	require.NoError(t, err)

	gw := &fakeGateway{}
	return &fixture{
		store: st,
		gw:    gw,
		svc:   NewChatService(st, gw, logger.Discard(), opts),
		user:  user,
		other: other,
		chat:  chat,
	}
}

func (f *fixture) messages(t *testing.T) []store.Message {
	t.Helper()
	msgs, err := f.store.GetMessagesByChatID(context.Background(), f.chat.ID)
	require.NoError(t, err)
	return msgs
}
