// ABOUTME: Matrix front end for the conversation engine
// ABOUTME: Turns room messages into engine events and sends replies and async results back

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/crypto/attachment"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/herald/internal/config"
	"github.com/2389/herald/internal/conversation"
	"github.com/2389/herald/internal/dedupe"
	"github.com/2389/herald/internal/media"
)

const (
	// typingTimeout is how long the typing indicator shows without a refresh.
	typingTimeout = 30 * time.Second
	// networkTimeout bounds Matrix API calls.
	networkTimeout = 10 * time.Second
	sendTimeout    = 30 * time.Second

	defaultMaxDownload = 20 << 20
)

// MsgDownloadFailed is sent when an attached file cannot be fetched.
const MsgDownloadFailed = "⚠️ Could not download that file. Please send it again."

// Handler processes one inbound event for a user.
type Handler interface {
	HandleEvent(ctx context.Context, userID string, ev conversation.Event) []conversation.Outbound
}

// Subscriber delivers messages produced outside of HandleEvent.
type Subscriber interface {
	Subscribe(ctx context.Context, userID string) (<-chan conversation.Delivery, string)
}

// MediaOpener loads staged media for outbound previews.
type MediaOpener interface {
	Open(m *media.StagedMedia) ([]byte, error)
}

// messenger is the part of *mautrix.Client the bridge talks through.
type messenger interface {
	SendMessageEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, contentJSON any, extra ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error)
	UserTyping(ctx context.Context, roomID id.RoomID, typing bool, timeout time.Duration) (*mautrix.RespTyping, error)
	UploadBytes(ctx context.Context, data []byte, contentType string) (*mautrix.RespMediaUpload, error)
	DownloadBytes(ctx context.Context, mxcURL id.ContentURI) ([]byte, error)
	JoinRoomByID(ctx context.Context, roomID id.RoomID) (*mautrix.RespJoinRoom, error)
}

// Options configures a Bridge.
type Options struct {
	Matrix config.MatrixConfig
	// AuthorizedUser is the only account whose invites are accepted.
	AuthorizedUser string
	// DataDir holds the crypto database unless Matrix.CryptoDB is set.
	DataDir string
	// MaxDownload caps inbound file size; zero means 20 MiB.
	MaxDownload int64
}

// Deps are the collaborators a Bridge drives.
type Deps struct {
	Handler Handler
	Notes   Subscriber
	Media   MediaOpener
}

// Bridge connects Matrix rooms to the conversation engine.
type Bridge struct {
	opts   Options
	deps   Deps
	client *mautrix.Client
	mx     messenger
	crypto *CryptoManager
	seen   *dedupe.Cache
	logger *slog.Logger

	// isEncrypted reports whether a room needs encrypted attachments.
	isEncrypted func(ctx context.Context, roomID id.RoomID) bool

	startedAt time.Time
	running   atomic.Bool
	queue     *userQueue

	mu sync.Mutex
	// rooms is the last room each user wrote from; async results go there.
	rooms map[string]id.RoomID
	// offered holds the choices of the last message sent to each user.
	offered map[string][]conversation.Choice
}

// New creates a bridge. Call Login before Run.
func New(opts Options, deps Deps, logger *slog.Logger) (*Bridge, error) {
	if deps.Handler == nil {
		return nil, errors.New("bridge handler is required")
	}
	client, err := mautrix.NewClient(opts.Matrix.Homeserver, id.UserID(opts.Matrix.UserID), opts.Matrix.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	if opts.Matrix.DeviceID != "" {
		client.DeviceID = id.DeviceID(opts.Matrix.DeviceID)
	}

	b := newBridge(opts, deps, client, logger)
	b.client = client
	b.isEncrypted = func(ctx context.Context, roomID id.RoomID) bool {
		if client.Crypto == nil || client.StateStore == nil {
			return false
		}
		encrypted, err := client.StateStore.IsEncrypted(ctx, roomID)
		return err == nil && encrypted
	}
	return b, nil
}

func newBridge(opts Options, deps Deps, mx messenger, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxDownload <= 0 {
		opts.MaxDownload = defaultMaxDownload
	}
	return &Bridge{
		opts:        opts,
		deps:        deps,
		mx:          mx,
		seen:        dedupe.New(dedupe.DefaultTTL, dedupe.DefaultMaxSize),
		logger:      logger.With("component", "bridge"),
		isEncrypted: func(context.Context, id.RoomID) bool { return false },
		rooms:       make(map[string]id.RoomID),
		offered:     make(map[string][]conversation.Choice),
	}
}

// Login authenticates with the homeserver and sets up encryption if enabled.
// With an access token it only asks the server who we are.
func (b *Bridge) Login(ctx context.Context) error {
	m := b.opts.Matrix
	if m.AccessToken == "" {
		resp, err := b.client.Login(ctx, &mautrix.ReqLogin{
			Type:                     mautrix.AuthTypePassword,
			Identifier:               mautrix.UserIdentifier{Type: mautrix.IdentifierTypeUser, User: m.UserID},
			Password:                 m.Password,
			DeviceID:                 id.DeviceID(m.DeviceID),
			InitialDeviceDisplayName: "herald",
			StoreCredentials:         true,
		})
		if err != nil {
			return fmt.Errorf("matrix password login: %w", err)
		}
		b.logger.Info("logged in to matrix", "user_id", resp.UserID, "device_id", resp.DeviceID)
	} else {
		resp, err := b.client.Whoami(ctx)
		if err != nil {
			return fmt.Errorf("matrix whoami: %w", err)
		}
		if b.client.DeviceID == "" {
			b.client.DeviceID = resp.DeviceID
		}
		b.logger.Info("using matrix access token", "user_id", resp.UserID, "device_id", b.client.DeviceID)
	}

	if !m.Encryption {
		return nil
	}
	dbPath := cryptoDBPath(m.CryptoDB, b.opts.DataDir, m.UserID)
	cm, err := setupCrypto(ctx, b.client, dbPath, m.PickleKey, m.RecoveryKey, b.logger)
	if err != nil {
		return err
	}
	b.crypto = cm
	return nil
}

// Run syncs with the homeserver and blocks until ctx is canceled.
// Queued replies finish before Run returns.
func (b *Bridge) Run(ctx context.Context) error {
	b.logger.Info("starting matrix bridge",
		"homeserver", b.opts.Matrix.Homeserver,
		"user_id", b.opts.Matrix.UserID,
	)

	syncer, ok := b.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.client.Syncer)
	}
	syncer.OnEventType(event.EventMessage, b.handleMessageEvent)
	syncer.OnEventType(event.StateMember, b.handleMemberEvent)

	b.start(ctx)
	defer b.stop()

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- b.client.SyncWithContext(ctx)
	}()
	b.running.Store(true)
	defer b.running.Store(false)
	b.logger.Info("matrix bridge running")

	select {
	case <-ctx.Done():
		b.logger.Info("shutting down matrix bridge")
		return nil
	case err := <-syncErr:
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// start prepares the queue and routes async notifications into it.
func (b *Bridge) start(ctx context.Context) {
	b.startedAt = time.Now()
	// Queued jobs outlive ctx so in-flight replies still go out on shutdown.
	b.queue = newUserQueue(context.WithoutCancel(ctx), b.logger)

	if b.deps.Notes == nil {
		return
	}
	deliveries, _ := b.deps.Notes.Subscribe(ctx, conversation.AllUsers)
	go func() {
		for d := range deliveries {
			b.queue.enqueue(d.UserID, func(ctx context.Context) {
				b.deliver(ctx, d.UserID, d.Message)
			})
		}
	}()
}

func (b *Bridge) stop() {
	if b.queue != nil {
		b.queue.close()
	}
	if err := b.crypto.Close(); err != nil {
		b.logger.Warn("failed to close crypto", "error", err)
	}
}

// Ready reports an error until the sync loop is running.
func (b *Bridge) Ready(ctx context.Context) error {
	if !b.running.Load() {
		return errors.New("matrix sync not running")
	}
	return nil
}

// handleMessageEvent filters a room message and queues it for its sender.
func (b *Bridge) handleMessageEvent(ctx context.Context, evt *event.Event) {
	if evt.Sender == id.UserID(b.opts.Matrix.UserID) {
		return
	}
	if time.UnixMilli(evt.Timestamp).Before(b.startedAt) {
		b.logger.Debug("ignoring message from before startup", "event_id", evt.ID)
		return
	}
	if !b.seen.First(evt.ID.String()) {
		b.logger.Debug("ignoring duplicate event", "event_id", evt.ID)
		return
	}
	if !b.isRoomAllowed(evt.RoomID.String()) {
		b.logger.Debug("ignoring message from non-allowed room", "room", evt.RoomID)
		return
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok {
		return
	}
	switch content.MsgType {
	case event.MsgText, event.MsgEmote, event.MsgImage, event.MsgFile:
	default:
		return
	}

	userID := evt.Sender.String()
	roomID := evt.RoomID
	b.logger.Info("received message",
		"room", roomID.String(),
		"sender", userID,
		"type", content.MsgType,
		"content", truncate(content.Body, 50),
	)

	// Processing happens on the sender's queue so the sync loop never blocks.
	b.queue.enqueue(userID, func(ctx context.Context) {
		b.process(ctx, userID, roomID, content)
	})
}

// process runs one inbound message through the engine and sends the replies.
func (b *Bridge) process(ctx context.Context, userID string, roomID id.RoomID, content *event.MessageEventContent) {
	b.mu.Lock()
	b.rooms[userID] = roomID
	offered := b.offered[userID]
	b.mu.Unlock()

	var ev conversation.Event
	if content.MsgType == event.MsgImage || content.MsgType == event.MsgFile {
		msg, err := b.download(ctx, content)
		if err != nil {
			b.logger.Warn("failed to download attachment", "room", roomID.String(), "error", err)
			b.send(ctx, userID, roomID, conversation.Outbound{Text: MsgDownloadFailed})
			return
		}
		ev = msg
	} else {
		ev = parseText(content.Body, offered)
	}

	if b.opts.Matrix.TypingIndicator {
		b.setTyping(roomID, true)
		defer b.setTyping(roomID, false)
	}

	for _, reply := range b.deps.Handler.HandleEvent(ctx, userID, ev) {
		b.send(ctx, userID, roomID, reply)
	}
}

// deliver sends an async result to the user's last room.
func (b *Bridge) deliver(ctx context.Context, userID string, msg conversation.Outbound) {
	b.mu.Lock()
	roomID, ok := b.rooms[userID]
	b.mu.Unlock()
	if !ok {
		b.logger.Warn("no known room for notification, dropping", "user_id", userID)
		return
	}
	b.send(ctx, userID, roomID, msg)
}

// send renders one outbound message: its image first, then the text with
// the choice keywords.
func (b *Bridge) send(ctx context.Context, userID string, roomID id.RoomID, msg conversation.Outbound) {
	b.mu.Lock()
	b.offered[userID] = slices.Clone(msg.Choices)
	b.mu.Unlock()

	if msg.Media != nil {
		if err := b.sendImage(ctx, roomID, msg.Media); err != nil {
			b.logger.Error("failed to send image", "room", roomID.String(), "error", err)
		}
	}

	body := renderText(msg)
	if body == "" {
		return
	}
	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    body,
	}
	if formatted := renderHTML(body); formatted != "" {
		content.Format = event.FormatHTML
		content.FormattedBody = formatted
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if _, err := b.mx.SendMessageEvent(sendCtx, roomID, event.EventMessage, content); err != nil {
		b.logger.Error("failed to send message", "room", roomID.String(), "error", err)
	}
}

func (b *Bridge) sendImage(ctx context.Context, roomID id.RoomID, m *media.StagedMedia) error {
	if b.deps.Media == nil {
		return errors.New("no media opener configured")
	}
	data, err := b.deps.Media.Open(m)
	if err != nil {
		return fmt.Errorf("reading staged media: %w", err)
	}

	content := &event.MessageEventContent{
		MsgType: event.MsgImage,
		Body:    "image." + m.Format,
		Info: &event.FileInfo{
			MimeType: m.MimeType,
			Size:     len(data),
			Width:    m.Width,
			Height:   m.Height,
		},
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	var file *attachment.EncryptedFile
	uploadType := m.MimeType
	if b.isEncrypted(sendCtx, roomID) {
		file = attachment.NewEncryptedFile()
		file.EncryptInPlace(data)
		uploadType = "application/octet-stream"
	}

	resp, err := b.mx.UploadBytes(sendCtx, data, uploadType)
	if err != nil {
		return fmt.Errorf("uploading image: %w", err)
	}
	if file != nil {
		content.File = &event.EncryptedFileInfo{EncryptedFile: *file, URL: resp.ContentURI.CUString()}
	} else {
		content.URL = resp.ContentURI.CUString()
	}

	if _, err := b.mx.SendMessageEvent(sendCtx, roomID, event.EventMessage, content); err != nil {
		return fmt.Errorf("sending image event: %w", err)
	}
	return nil
}

// download fetches an attachment, decrypting it when the room is encrypted.
func (b *Bridge) download(ctx context.Context, content *event.MessageEventContent) (conversation.MediaMessage, error) {
	msg := conversation.MediaMessage{Filename: content.Body}
	if content.Info != nil {
		msg.MimeType = content.Info.MimeType
		if int64(content.Info.Size) > b.opts.MaxDownload {
			// Leave Data empty; the stager rejects it as invalid media.
			return msg, nil
		}
	}

	rawURL := content.URL
	if content.File != nil {
		rawURL = content.File.URL
	}
	uri, err := rawURL.Parse()
	if err != nil {
		return msg, fmt.Errorf("parsing content URI: %w", err)
	}

	dlCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	data, err := b.mx.DownloadBytes(dlCtx, uri)
	if err != nil {
		return msg, fmt.Errorf("downloading %s: %w", uri, err)
	}
	if int64(len(data)) > b.opts.MaxDownload {
		return msg, nil
	}
	if content.File != nil {
		if err := content.File.DecryptInPlace(data); err != nil {
			return msg, fmt.Errorf("decrypting attachment: %w", err)
		}
	}
	msg.Data = data
	return msg, nil
}

// handleMemberEvent joins rooms the authorized user invites us to.
func (b *Bridge) handleMemberEvent(ctx context.Context, evt *event.Event) {
	if evt.GetStateKey() != b.opts.Matrix.UserID {
		return
	}
	member := evt.Content.AsMember()
	if member.Membership != event.MembershipInvite {
		return
	}
	if evt.Sender.String() != b.opts.AuthorizedUser {
		b.logger.Info("ignoring invite from unauthorized user", "room", evt.RoomID.String(), "sender", evt.Sender.String())
		return
	}
	if !b.isRoomAllowed(evt.RoomID.String()) {
		b.logger.Info("ignoring invite to non-allowed room", "room", evt.RoomID.String())
		return
	}

	joinCtx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	if _, err := b.mx.JoinRoomByID(joinCtx, evt.RoomID); err != nil {
		b.logger.Error("failed to join room", "room", evt.RoomID.String(), "error", err)
		return
	}
	b.logger.Info("joined room", "room", evt.RoomID.String(), "inviter", evt.Sender.String())
}

// isRoomAllowed checks if the room is in the allowed list.
func (b *Bridge) isRoomAllowed(roomID string) bool {
	if len(b.opts.Matrix.AllowedRooms) == 0 {
		return true
	}
	return slices.Contains(b.opts.Matrix.AllowedRooms, roomID)
}

// setTyping sends typing indicator to room.
func (b *Bridge) setTyping(roomID id.RoomID, typing bool) {
	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	defer cancel()
	if _, err := b.mx.UserTyping(ctx, roomID, typing, timeout); err != nil {
		b.logger.Debug("failed to set typing indicator", "room", roomID.String(), "error", err)
	}
}

// truncate shortens s to max runes for log lines.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max])) + "..."
}
