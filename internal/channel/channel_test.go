package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stellarlinkco/autoreply/internal/bus"
	"github.com/stellarlinkco/autoreply/internal/config"
)

func TestBaseChannel_Name(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch := NewBaseChannel("test", b)
	if ch.Name() != "test" {
		t.Errorf("Name = %q, want test", ch.Name())
	}
}

func TestBaseChannel_PublishGivesUpOnCancel(t *testing.T) {
	b := bus.NewMessageBus(1)
	ch := NewBaseChannel("test", b)
	ch.publish(context.Background(), bus.InboundMessage{MessageID: "1"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		ch.publish(ctx, bus.InboundMessage{MessageID: "2"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked after cancel")
	}
	if got := (<-b.Inbound).MessageID; got != "1" {
		t.Errorf("first message = %q, want 1", got)
	}
}

func TestNewTelegramChannel_NoToken(t *testing.T) {
	b := bus.NewMessageBus(10)
	_, err := NewTelegramChannel(config.TelegramConfig{}, b)
	if err == nil {
		t.Error("expected error for empty token")
	}
}

func TestNewTelegramChannel_Valid(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, err := NewTelegramChannel(config.TelegramConfig{Token: "fake-token"}, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ch.Name() != "telegram" {
		t.Errorf("Name = %q, want telegram", ch.Name())
	}
}

func TestToTelegramHTML(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"hello", "hello"},
		{"**bold**", "<b>bold</b>"},
		{"`code`", "<code>code</code>"},
		{"a & b", "a &amp; b"},
		{"<tag>", "&lt;tag&gt;"},
	}

	for _, tt := range tests {
		got := toTelegramHTML(tt.input)
		if got != tt.want {
			t.Errorf("toTelegramHTML(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestToTelegramHTML_CodeBlocks(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"code block with language", "```go\nfunc main() {}\n```", "<pre>func main() {}\n</pre>"},
		{"code block without language", "```\ncode here\n```", "<pre>\ncode here\n</pre>"},
		{"italic text", "*italic*", "<i>italic</i>"},
		{"mixed bold and italic", "**bold** and *italic*", "<b>bold</b> and <i>italic</i>"},
		{"unclosed inline code", "`code", "`code"},
		{"unclosed italic", "*italic", "*italic"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := toTelegramHTML(tt.input)
			if got != tt.want {
				t.Errorf("toTelegramHTML(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTelegramChannel_Stop_NotStarted(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, _ := NewTelegramChannel(config.TelegramConfig{Token: "fake-token"}, b)
	if err := ch.Stop(); err != nil {
		t.Errorf("Stop error: %v", err)
	}
}

func TestTelegramChannel_Send_NilBot(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, _ := NewTelegramChannel(config.TelegramConfig{Token: "fake-token"}, b)

	err := ch.Send(context.Background(), bus.OutboundMessage{ChatID: "123", Content: "test"})
	if err == nil {
		t.Error("expected error when bot is nil")
	}
}

func TestTelegramChannel_Send_InvalidChatID(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, _ := NewTelegramChannel(config.TelegramConfig{Token: "fake-token"}, b)
	ch.SetBot(newMockBot())

	err := ch.Send(context.Background(), bus.OutboundMessage{ChatID: "not-a-number", Content: "test"})
	if err == nil {
		t.Error("expected error for invalid chat ID")
	}
}

func TestTelegramChannel_Send_QuotesFirstChunkOnly(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, _ := NewTelegramChannel(config.TelegramConfig{Token: "fake-token"}, b)
	bot := newMockBot()
	ch.SetBot(bot)

	long := strings.Repeat("a", telegramMaxLen) + "\n" + strings.Repeat("b", 10)
	err := ch.Send(context.Background(), bus.OutboundMessage{ChatID: "42", Content: long, ReplyTo: "7"})
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if len(bot.sentMsgs) != 2 {
		t.Fatalf("sent %d chunks, want 2", len(bot.sentMsgs))
	}
	first := bot.sentMsgs[0].(tgbotapi.MessageConfig)
	second := bot.sentMsgs[1].(tgbotapi.MessageConfig)
	if first.ReplyToMessageID != 7 {
		t.Errorf("first chunk reply = %d, want 7", first.ReplyToMessageID)
	}
	if second.ReplyToMessageID != 0 {
		t.Errorf("second chunk reply = %d, want 0", second.ReplyToMessageID)
	}
	if first.ChatID != 42 {
		t.Errorf("chat = %d, want 42", first.ChatID)
	}
}

func TestTelegramChannel_Send_FallsBackToPlainText(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, _ := NewTelegramChannel(config.TelegramConfig{Token: "fake-token"}, b)
	bot := newMockBot()
	bot.failHTML = true
	ch.SetBot(bot)

	if err := ch.Send(context.Background(), bus.OutboundMessage{ChatID: "1", Content: "**hi**"}); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	last := bot.sentMsgs[len(bot.sentMsgs)-1].(tgbotapi.MessageConfig)
	if last.ParseMode != "" || last.Text != "**hi**" {
		t.Errorf("retry = %+v, want raw text without parse mode", last)
	}
}

func TestTelegramChannel_Send_Error(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, _ := NewTelegramChannel(config.TelegramConfig{Token: "fake-token"}, b)
	bot := newMockBot()
	bot.sendErr = errors.New("network down")
	ch.SetBot(bot)

	if err := ch.Send(context.Background(), bus.OutboundMessage{ChatID: "1", Content: "hi"}); err == nil {
		t.Fatal("expected send error")
	}
}

func TestTelegramChannel_HandleMessage(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, _ := NewTelegramChannel(config.TelegramConfig{Token: "fake-token"}, b)
	ch.SetBot(newMockBot())

	ch.handleMessage(&tgbotapi.Message{
		MessageID: 99,
		From:      &tgbotapi.User{ID: 123, FirstName: "Jane", LastName: "Doe", UserName: "jdoe"},
		Chat:      &tgbotapi.Chat{ID: 456, Type: "private"},
		Text:      "hello",
		Date:      1234567890,
	})

	select {
	case inbound := <-b.Inbound:
		if inbound.Content != "hello" || inbound.MessageType != "text" {
			t.Errorf("content = %q type = %q", inbound.Content, inbound.MessageType)
		}
		if inbound.SenderID != "123" || inbound.ChatID != "456" || inbound.MessageID != "99" {
			t.Errorf("ids = %q %q %q", inbound.SenderID, inbound.ChatID, inbound.MessageID)
		}
		if inbound.SenderName != "Jane Doe" {
			t.Errorf("sender name = %q, want Jane Doe", inbound.SenderName)
		}
		if inbound.FromMe || inbound.IsGroup || inbound.IsStatus {
			t.Errorf("flags = %+v", inbound)
		}
		if !inbound.Timestamp.Equal(time.Unix(1234567890, 0)) {
			t.Errorf("timestamp = %v", inbound.Timestamp)
		}
	default:
		t.Error("expected inbound message")
	}
}

func TestTelegramChannel_HandleMessage_Flags(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, _ := NewTelegramChannel(config.TelegramConfig{Token: "fake-token"}, b)
	bot := newMockBot()
	bot.self.ID = 777
	ch.SetBot(bot)

	ch.handleMessage(&tgbotapi.Message{
		From: &tgbotapi.User{ID: 123, UserName: "someone"},
		Chat: &tgbotapi.Chat{ID: -100, Type: "supergroup"},
		Text: "hey all",
	})
	ch.handleMessage(&tgbotapi.Message{
		From: &tgbotapi.User{ID: 777, UserName: "testbot"},
		Chat: &tgbotapi.Chat{ID: 456, Type: "private"},
		Text: "sent by me",
	})

	group := <-b.Inbound
	if !group.IsGroup {
		t.Error("supergroup message should be marked as group")
	}
	if group.SenderName != "someone" {
		t.Errorf("sender name = %q, want username fallback", group.SenderName)
	}
	own := <-b.Inbound
	if !own.FromMe {
		t.Error("message from the bot account should be marked FromMe")
	}
}

func TestTelegramChannel_HandleMessage_EmptyText(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, _ := NewTelegramChannel(config.TelegramConfig{Token: "fake-token"}, b)

	ch.handleMessage(&tgbotapi.Message{
		From: &tgbotapi.User{ID: 123},
		Chat: &tgbotapi.Chat{ID: 456},
	})

	select {
	case <-b.Inbound:
		t.Error("should not publish a message with nothing in it")
	default:
	}
}

func TestTelegramChannel_HandleMessage_Media(t *testing.T) {
	tests := []struct {
		name        string
		msg         *tgbotapi.Message
		wantContent string
		wantType    string
	}{
		{
			name:        "photo with caption",
			msg:         &tgbotapi.Message{Caption: "look", Photo: []tgbotapi.PhotoSize{{FileID: "p"}}},
			wantContent: "look",
			wantType:    "image",
		},
		{
			name:     "document without caption",
			msg:      &tgbotapi.Message{Document: &tgbotapi.Document{FileID: "d"}},
			wantType: "document",
		},
		{
			name:     "sticker",
			msg:      &tgbotapi.Message{Sticker: &tgbotapi.Sticker{FileID: "s"}},
			wantType: "sticker",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := bus.NewMessageBus(10)
			ch, _ := NewTelegramChannel(config.TelegramConfig{Token: "fake-token"}, b)
			tt.msg.From = &tgbotapi.User{ID: 1, FirstName: "A"}
			tt.msg.Chat = &tgbotapi.Chat{ID: 2}
			ch.handleMessage(tt.msg)

			select {
			case inbound := <-b.Inbound:
				if inbound.Content != tt.wantContent || inbound.MessageType != tt.wantType {
					t.Errorf("got (%q, %q), want (%q, %q)", inbound.Content, inbound.MessageType, tt.wantContent, tt.wantType)
				}
			default:
				t.Fatal("expected inbound message")
			}
		})
	}
}

type mockTelegramBot struct {
	mu          sync.Mutex
	updatesChan chan tgbotapi.Update
	stopped     bool
	sentMsgs    []tgbotapi.Chattable
	sendErr     error
	failHTML    bool
	self        tgbotapi.User
}

func newMockBot() *mockTelegramBot {
	return &mockTelegramBot{
		updatesChan: make(chan tgbotapi.Update, 10),
		self:        tgbotapi.User{UserName: "testbot"},
	}
}

func (m *mockTelegramBot) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return m.updatesChan
}

func (m *mockTelegramBot) StopReceivingUpdates() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
}

func (m *mockTelegramBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentMsgs = append(m.sentMsgs, c)
	if m.sendErr != nil {
		return tgbotapi.Message{}, m.sendErr
	}
	if msg, ok := c.(tgbotapi.MessageConfig); ok && m.failHTML && msg.ParseMode == tgbotapi.ModeHTML {
		return tgbotapi.Message{}, errors.New("can't parse entities")
	}
	return tgbotapi.Message{MessageID: 1}, nil
}

func (m *mockTelegramBot) GetSelf() tgbotapi.User {
	return m.self
}

func TestTelegramChannel_InitBot_Success(t *testing.T) {
	b := bus.NewMessageBus(10)
	mockBot := newMockBot()
	factory := func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
		return mockBot, nil
	}

	ch, _ := NewTelegramChannelWithFactory(config.TelegramConfig{Token: "fake-token"}, b, factory)
	if err := ch.initBot(); err != nil {
		t.Errorf("initBot error: %v", err)
	}
	if ch.bot == nil {
		t.Error("bot should be set")
	}
}

func TestTelegramChannel_InitBot_Error(t *testing.T) {
	b := bus.NewMessageBus(10)
	factory := func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
		return nil, fmt.Errorf("auth failed")
	}

	ch, _ := NewTelegramChannelWithFactory(config.TelegramConfig{Token: "fake-token"}, b, factory)
	if err := ch.initBot(); err == nil {
		t.Error("expected error from initBot")
	}
}

func TestTelegramChannel_InitBot_InvalidProxy(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, _ := NewTelegramChannelWithFactory(config.TelegramConfig{
		Token: "fake-token",
		Proxy: "://invalid-url",
	}, b, defaultBotFactory)

	if err := ch.initBot(); err == nil {
		t.Error("expected error for invalid proxy URL")
	}
}

func TestTelegramChannel_Start_Success(t *testing.T) {
	b := bus.NewMessageBus(10)
	mockBot := newMockBot()
	factory := func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
		return mockBot, nil
	}

	ch, _ := NewTelegramChannelWithFactory(config.TelegramConfig{Token: "fake-token"}, b, factory)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ch.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	mockBot.updatesChan <- tgbotapi.Update{}
	mockBot.updatesChan <- tgbotapi.Update{
		Message: &tgbotapi.Message{
			From: &tgbotapi.User{ID: 123},
			Chat: &tgbotapi.Chat{ID: 456},
			Text: "test message",
		},
	}

	select {
	case msg := <-b.Inbound:
		if msg.Content != "test message" {
			t.Errorf("content = %q, want 'test message'", msg.Content)
		}
	case <-time.After(time.Second):
		t.Error("timeout waiting for message")
	}

	if err := ch.Stop(); err != nil {
		t.Errorf("Stop error: %v", err)
	}
	mockBot.mu.Lock()
	defer mockBot.mu.Unlock()
	if !mockBot.stopped {
		t.Error("bot should stop receiving updates")
	}
}

func TestChannelManager_Empty(t *testing.T) {
	b := bus.NewMessageBus(10)
	m, err := NewChannelManager(config.ChannelsConfig{}, b)
	if err != nil {
		t.Fatalf("NewChannelManager error: %v", err)
	}
	if len(m.EnabledChannels()) != 0 {
		t.Errorf("expected 0 enabled channels, got %d", len(m.EnabledChannels()))
	}
	if err := m.StartAll(context.Background()); err != nil {
		t.Errorf("StartAll error: %v", err)
	}
	if err := m.StopAll(); err != nil {
		t.Errorf("StopAll error: %v", err)
	}
}

func TestChannelManager_TelegramNeedsToken(t *testing.T) {
	b := bus.NewMessageBus(10)
	_, err := NewChannelManager(config.ChannelsConfig{
		Telegram: config.TelegramConfig{Enabled: true},
	}, b)
	if err == nil {
		t.Fatal("expected error for telegram without token")
	}
}

type mockChannel struct {
	mu       sync.Mutex
	name     string
	started  bool
	stopped  bool
	startErr error
	stopErr  error
	sendErr  error
	sentMsgs []bus.OutboundMessage
}

func (m *mockChannel) Name() string { return m.name }

func (m *mockChannel) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = true
	return m.startErr
}

func (m *mockChannel) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	return m.stopErr
}

func (m *mockChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sentMsgs = append(m.sentMsgs, msg)
	return nil
}

func TestChannelManager_WithMockChannels(t *testing.T) {
	b := bus.NewMessageBus(10)
	alpha := &mockChannel{name: "alpha"}
	beta := &mockChannel{name: "beta"}
	m := NewChannelManagerWith(b, beta, alpha)

	if err := m.StartAll(context.Background()); err != nil {
		t.Errorf("StartAll error: %v", err)
	}
	if !alpha.started || !beta.started {
		t.Error("channels should be started")
	}

	channels := m.EnabledChannels()
	if len(channels) != 2 || channels[0] != "alpha" || channels[1] != "beta" {
		t.Errorf("EnabledChannels = %v, want [alpha beta]", channels)
	}

	if err := m.StopAll(); err != nil {
		t.Errorf("StopAll error: %v", err)
	}
	if !alpha.stopped || !beta.stopped {
		t.Error("channels should be stopped")
	}
}

func TestChannelManager_Send(t *testing.T) {
	b := bus.NewMessageBus(10)
	alpha := &mockChannel{name: "alpha"}
	broken := &mockChannel{name: "broken", sendErr: errors.New("offline")}
	m := NewChannelManagerWith(b, alpha, broken)
	ctx := context.Background()

	if err := m.Send(ctx, bus.OutboundMessage{Channel: "alpha", ChatID: "c", Content: "hi"}); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if len(alpha.sentMsgs) != 1 || alpha.sentMsgs[0].Content != "hi" {
		t.Errorf("alpha sent = %+v", alpha.sentMsgs)
	}

	if err := m.Send(ctx, bus.OutboundMessage{Channel: "nowhere"}); err == nil {
		t.Error("expected error for unknown channel")
	}
	if err := m.Send(ctx, bus.OutboundMessage{Channel: "broken"}); err == nil || !strings.Contains(err.Error(), "offline") {
		t.Errorf("err = %v, want wrapped offline", err)
	}
}

func TestChannelManager_StartAll_Error(t *testing.T) {
	b := bus.NewMessageBus(10)
	m := NewChannelManagerWith(b, &mockChannel{name: "mock", startErr: fmt.Errorf("start failed")})

	if err := m.StartAll(context.Background()); err == nil {
		t.Error("expected error from StartAll")
	}
}

func TestChannelManager_StopAll_Error(t *testing.T) {
	b := bus.NewMessageBus(10)
	m := NewChannelManagerWith(b, &mockChannel{name: "mock", stopErr: fmt.Errorf("stop failed")})

	// errors are logged, not returned
	if err := m.StopAll(); err != nil {
		t.Errorf("StopAll should not return error: %v", err)
	}
}
