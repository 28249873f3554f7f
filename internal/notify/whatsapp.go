package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	_ "github.com/lib/pq"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"arenabot/internal/session"
)

const whatsappPrefix = "whatsapp:"

func WhatsAppArena(chat types.JID) string { return whatsappPrefix + chat.String() }

// WhatsApp posts events to the group whose JID is the arena id. The device
// identity lives in Postgres next to the ledger.
type WhatsApp struct {
	client *whatsmeow.Client
	log    *slog.Logger
	qrOut  io.Writer
}

func NewWhatsApp(ctx context.Context, databaseURL string, qrOut io.Writer, logger *slog.Logger) (*WhatsApp, error) {
	if logger == nil {
		logger = slog.Default()
	}
	container, err := sqlstore.New(ctx, "postgres", databaseURL, waLog.Noop)
	if err != nil {
		return nil, fmt.Errorf("whatsapp store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("whatsapp device: %w", err)
	}
	return &WhatsApp{
		client: whatsmeow.NewClient(device, waLog.Noop),
		log:    logger,
		qrOut:  qrOut,
	}, nil
}

func (w *WhatsApp) Announce(ctx context.Context, ev session.Event) error {
	raw, ok := strings.CutPrefix(ev.ArenaID, whatsappPrefix)
	if !ok {
		return nil
	}
	chat, err := types.ParseJID(raw)
	if err != nil {
		return fmt.Errorf("whatsapp arena %q: %w", ev.ArenaID, err)
	}
	return w.send(ctx, chat, ev.Text)
}

func (w *WhatsApp) send(ctx context.Context, chat types.JID, text string) error {
	msg := &waE2E.Message{Conversation: proto.String(text)}
	if _, err := w.client.SendMessage(ctx, chat, msg); err != nil {
		return fmt.Errorf("whatsapp send: %w", err)
	}
	return nil
}

// Listen connects, pairing through a terminal QR code when the device is
// new, and feeds group messages to handle until ctx is done.
func (w *WhatsApp) Listen(ctx context.Context, handle MessageHandler) error {
	w.client.AddEventHandler(func(evt any) {
		m, ok := evt.(*events.Message)
		if !ok || m.Info.IsFromMe || !m.Info.IsGroup {
			return
		}
		text := m.Message.GetConversation()
		if text == "" {
			text = m.Message.GetExtendedTextMessage().GetText()
		}
		if text == "" {
			return
		}
		name := m.Info.PushName
		if name == "" {
			name = m.Info.Sender.User
		}
		reply := handle(ctx, Message{
			ArenaID:     WhatsAppArena(m.Info.Chat),
			PlayerID:    whatsappPrefix + m.Info.Sender.ToNonAD().String(),
			DisplayName: name,
			Text:        text,
			MessageID:   string(m.Info.ID),
		})
		if reply == "" {
			return
		}
		if err := w.send(ctx, m.Info.Chat, reply); err != nil {
			w.log.Warn("whatsapp reply failed", "chat", m.Info.Chat.String(), "err", err)
		}
	})

	if w.client.Store.ID == nil {
		qr, err := w.client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("whatsapp qr channel: %w", err)
		}
		if err := w.client.Connect(); err != nil {
			return fmt.Errorf("whatsapp connect: %w", err)
		}
		for item := range qr {
			if item.Event == "code" {
				w.log.Info("scan the QR code to pair the arena bot")
				qrterminal.GenerateHalfBlock(item.Code, qrterminal.L, w.qrOut)
				continue
			}
			w.log.Info("whatsapp pairing", "event", item.Event)
		}
	} else if err := w.client.Connect(); err != nil {
		return fmt.Errorf("whatsapp connect: %w", err)
	}
	w.log.Info("whatsapp connected")
	<-ctx.Done()
	w.client.Disconnect()
	return nil
}
