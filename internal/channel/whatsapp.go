package channel

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	qrterminal "github.com/mdp/qrterminal/v3"
	"github.com/rs/zerolog"
	"github.com/stellarlinkco/autoreply/internal/bus"
	"github.com/stellarlinkco/autoreply/internal/config"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	_ "modernc.org/sqlite"
)

const whatsappChannelName = "whatsapp"

const (
	whatsappContactTimeout = 5 * time.Second
	whatsappSendTimeout    = 30 * time.Second

	unknownContactName = "Unknown"
)

// Metadata keys set on inbound WhatsApp messages and read back by Send.
const (
	MetaSenderJID = "sender_jid"
	MetaQuoted    = "quoted_text"
)

// errStoreNotReady is returned by device store lookups before pairing.
var errStoreNotReady = errors.New("whatsapp device store not ready")

// contactLookup resolves a sender against the device's contact store.
type contactLookup func(ctx context.Context, jid types.JID) (types.ContactInfo, error)

// pnLookup maps a LID to the phone-number JID behind it.
type pnLookup func(ctx context.Context, lid types.JID) (types.JID, error)

// deviceContacts and deviceLIDs read the device's stores on every call:
// whatsmeow only attaches them once the device is paired.
func deviceContacts(dev *store.Device) contactLookup {
	return func(ctx context.Context, jid types.JID) (types.ContactInfo, error) {
		if dev == nil || dev.Contacts == nil {
			return types.ContactInfo{}, errStoreNotReady
		}
		return dev.Contacts.GetContact(ctx, jid)
	}
}

func deviceLIDs(dev *store.Device) pnLookup {
	return func(ctx context.Context, lid types.JID) (types.JID, error) {
		if dev == nil || dev.LIDs == nil {
			return types.EmptyJID, errStoreNotReady
		}
		return dev.LIDs.GetPNForLID(ctx, lid)
	}
}

type WhatsAppChannel struct {
	BaseChannel
	cfg            config.WhatsAppConfig
	client         *whatsmeow.Client
	storeContainer *sqlstore.Container
	lookup         contactLookup
	resolvePN      pnLookup
	handlerID      uint32

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

func newWhatsAppLogger(level string) waLog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.WarnLevel
	}
	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Stamp}).
		Level(lvl).
		With().Timestamp().Str("component", "whatsmeow").
		Logger()
	return waLog.Zerolog(zl)
}

func NewWhatsApp(cfg config.WhatsAppConfig, msgBus *bus.MessageBus) (*WhatsAppChannel, error) {
	storePath := strings.TrimSpace(cfg.StorePath)
	if storePath == "" {
		storePath = filepath.Join(config.ConfigDir(), "whatsapp-store.db")
	}

	if err := os.MkdirAll(filepath.Dir(storePath), 0755); err != nil {
		return nil, fmt.Errorf("create whatsapp store dir: %w", err)
	}

	logger := newWhatsAppLogger(cfg.LogLevel)
	storeDSN := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)", filepath.ToSlash(storePath))
	container, err := sqlstore.New(context.Background(), "sqlite", storeDSN, logger.Sub("Database"))
	if err != nil {
		return nil, fmt.Errorf("init whatsapp session store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(context.Background())
	if err != nil {
		_ = container.Close()
		return nil, fmt.Errorf("get whatsapp device: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, logger.Sub("Client"))

	ch := &WhatsAppChannel{
		BaseChannel:    NewBaseChannel(whatsappChannelName, msgBus),
		cfg:            cfg,
		client:         client,
		storeContainer: container,
		lookup:         deviceContacts(client.Store),
		resolvePN:      deviceLIDs(client.Store),
	}
	ch.handlerID = ch.client.AddEventHandler(ch.handleEvent)

	return ch, nil
}

func (w *WhatsAppChannel) Name() string {
	return whatsappChannelName
}

func (w *WhatsAppChannel) Start(ctx context.Context) error {
	if w.client == nil {
		return fmt.Errorf("whatsapp client not initialized")
	}

	w.mu.Lock()
	ctx, w.cancel = context.WithCancel(ctx)
	w.ctx = ctx
	w.mu.Unlock()

	if w.client.Store.ID == nil {
		qrChan, err := w.client.GetQRChannel(ctx)
		if err != nil {
			w.cancel()
			return fmt.Errorf("get whatsapp qr channel: %w", err)
		}
		go w.consumeQR(ctx, qrChan)
	}

	if err := w.client.Connect(); err != nil {
		w.cancel()
		return fmt.Errorf("connect whatsapp: %w", err)
	}

	go func() {
		<-ctx.Done()
		w.client.Disconnect()
	}()

	log.Printf("[whatsapp] connecting")
	return nil
}

func (w *WhatsAppChannel) Stop() error {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Unlock()

	if w.client != nil {
		if w.handlerID != 0 {
			w.client.RemoveEventHandler(w.handlerID)
			w.handlerID = 0
		}
		w.client.Disconnect()
	}

	if w.storeContainer != nil {
		if err := w.storeContainer.Close(); err != nil {
			return fmt.Errorf("close whatsapp store: %w", err)
		}
		w.storeContainer = nil
	}

	log.Printf("[whatsapp] stopped")
	return nil
}

// Send delivers a text reply. When msg.ReplyTo is set the inbound message is quoted.
func (w *WhatsAppChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if w.client == nil {
		return fmt.Errorf("whatsapp client not initialized")
	}

	chatID := strings.TrimSpace(msg.ChatID)
	if chatID == "" {
		return fmt.Errorf("whatsapp chat id is required")
	}

	chatJID, err := parseWhatsAppJID(chatID)
	if err != nil {
		return fmt.Errorf("parse whatsapp chat id %q: %w", chatID, err)
	}

	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, whatsappSendTimeout)
	defer cancel()

	if _, err := w.client.SendMessage(ctx, chatJID, buildWhatsAppReply(msg, content)); err != nil {
		return fmt.Errorf("send whatsapp message: %w", err)
	}
	return nil
}

func buildWhatsAppReply(msg bus.OutboundMessage, content string) *waE2E.Message {
	if msg.ReplyTo == "" {
		return &waE2E.Message{Conversation: proto.String(content)}
	}

	info := &waE2E.ContextInfo{StanzaID: proto.String(msg.ReplyTo)}
	if sender, ok := msg.Metadata[MetaSenderJID].(string); ok && sender != "" {
		info.Participant = proto.String(sender)
	}
	if quoted, ok := msg.Metadata[MetaQuoted].(string); ok && quoted != "" {
		info.QuotedMessage = &waE2E.Message{Conversation: proto.String(quoted)}
	}
	return &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text:        proto.String(content),
			ContextInfo: info,
		},
	}
}

func (w *WhatsAppChannel) consumeQR(ctx context.Context, qrChan <-chan whatsmeow.QRChannelItem) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-qrChan:
			if !ok {
				return
			}

			switch evt.Event {
			case whatsmeow.QRChannelEventCode:
				log.Printf("[whatsapp] scan the QR code below to login")
				qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, os.Stdout)
			default:
				if evt.Error != nil {
					log.Printf("[whatsapp] login event=%s error=%v", evt.Event, evt.Error)
				} else {
					log.Printf("[whatsapp] login event=%s", evt.Event)
				}
			}
		}
	}
}

func (w *WhatsAppChannel) handleEvent(evt interface{}) {
	switch e := evt.(type) {
	case *events.Message:
		w.handleMessage(e)
	case *events.PairSuccess:
		log.Printf("[whatsapp] paired as %s", e.ID)
	case *events.Connected:
		log.Printf("[whatsapp] authenticated, ready")
	case *events.LoggedOut:
		log.Printf("[whatsapp] logged out (reason %v), pair again to continue", e.Reason)
	case *events.ConnectFailure:
		log.Printf("[whatsapp] auth failed: %v %s", e.Reason, e.Message)
	case *events.Disconnected:
		log.Printf("[whatsapp] disconnected")
	case *events.StreamError:
		log.Printf("[whatsapp] stream error: %s", e.Code)
	}
}

func (w *WhatsAppChannel) runContext() context.Context {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ctx == nil {
		return context.Background()
	}
	return w.ctx
}

// handleMessage publishes every message event, self-sent, status and group
// ones included. Filtering belongs to the router.
func (w *WhatsAppChannel) handleMessage(evt *events.Message) {
	if evt == nil || evt.Message == nil {
		return
	}

	content, msgType := extractWhatsAppText(evt)
	if content == "" && msgType == "" {
		return
	}

	ctx := w.runContext()
	sender := evt.Info.Sender.ToNonAD()
	w.publish(ctx, bus.InboundMessage{
		Channel:      whatsappChannelName,
		MessageID:    string(evt.Info.ID),
		SenderID:     sender.String(),
		SenderName:   w.contactName(ctx, sender, evt.Info.PushName),
		SenderNumber: w.senderNumber(ctx, evt.Info.MessageSource),
		ChatID:       evt.Info.Chat.String(),
		Content:      content,
		MessageType:  msgType,
		Timestamp:    evt.Info.Timestamp,
		FromMe:       evt.Info.IsFromMe,
		IsStatus:     evt.Info.Chat == types.StatusBroadcastJID || evt.Info.Chat.Server == types.BroadcastServer,
		IsGroup:      evt.Info.IsGroup,
		Metadata: map[string]any{
			MetaSenderJID: evt.Info.Sender.String(),
			MetaQuoted:    content,
			"push_name":   evt.Info.PushName,
		},
	})
}

// extractWhatsAppText returns the text and the message type, "" for events
// that carry nothing to answer.
func extractWhatsAppText(evt *events.Message) (string, string) {
	msg := evt.Message
	if text := strings.TrimSpace(msg.GetConversation()); text != "" {
		return text, "text"
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		if text := strings.TrimSpace(ext.GetText()); text != "" {
			return text, "text"
		}
	}
	if img := msg.GetImageMessage(); img != nil {
		return strings.TrimSpace(img.GetCaption()), "image"
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return strings.TrimSpace(vid.GetCaption()), "video"
	}
	if doc := msg.GetDocumentMessage(); doc != nil {
		return strings.TrimSpace(doc.GetCaption()), "document"
	}
	if msg.GetAudioMessage() != nil {
		return "", "audio"
	}
	if msg.GetStickerMessage() != nil {
		return "", "sticker"
	}
	return "", ""
}

// senderNumber returns the sender's phone number. LID-addressed senders carry
// it in SenderAlt, or in the device's LID map.
func (w *WhatsAppChannel) senderNumber(ctx context.Context, src types.MessageSource) string {
	sender := src.Sender.ToNonAD()
	if sender.Server != types.HiddenUserServer {
		return sender.User
	}
	if alt := src.SenderAlt.ToNonAD(); alt.Server == types.DefaultUserServer && alt.User != "" {
		return alt.User
	}
	if w.resolvePN != nil {
		ctx, cancel := context.WithTimeout(ctx, whatsappContactTimeout)
		pn, err := w.resolvePN(ctx, sender)
		cancel()
		switch {
		case err != nil:
			log.Printf("[whatsapp] lid lookup %s failed: %v", sender, err)
		case pn.User != "":
			return pn.ToNonAD().User
		}
	}
	return sender.User
}

func (w *WhatsAppChannel) contactName(ctx context.Context, jid types.JID, pushName string) string {
	var info types.ContactInfo
	if w.lookup != nil {
		ctx, cancel := context.WithTimeout(ctx, whatsappContactTimeout)
		found, err := w.lookup(ctx, jid)
		cancel()
		if err != nil {
			log.Printf("[whatsapp] contact lookup %s failed: %v", jid, err)
		} else {
			info = found
		}
	}
	return displayName(pushName, info)
}

// displayName prefers the sender's push name, then the saved contact names.
func displayName(pushName string, info types.ContactInfo) string {
	for _, name := range []string{pushName, info.PushName, info.FullName, info.FirstName, info.BusinessName} {
		if name = strings.TrimSpace(name); name != "" {
			return name
		}
	}
	return unknownContactName
}

func parseWhatsAppJID(raw string) (types.JID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return types.EmptyJID, fmt.Errorf("empty jid")
	}

	if strings.Contains(raw, "@") {
		return types.ParseJID(raw)
	}

	user := strings.TrimPrefix(raw, "+")
	if isDigitsOnly(user) {
		return types.NewJID(user, types.DefaultUserServer), nil
	}

	return types.ParseJID(raw)
}

func isDigitsOnly(val string) bool {
	if val == "" {
		return false
	}
	for _, r := range val {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
