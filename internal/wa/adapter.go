// Package wa connects the archive to WhatsApp through whatsmeow.
package wa

import (
	"context"
	"errors"
	"fmt"

	"github.com/matheus3301/wpp-archive/internal/bus"
	"github.com/matheus3301/wpp-archive/internal/status"
	"go.mau.fi/whatsmeow"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"

	_ "github.com/mattn/go-sqlite3"
)

// ErrAlreadyPaired is returned when pairing is requested for a linked device.
var ErrAlreadyPaired = errors.New("device already paired")

// deviceName is what the phone lists under linked devices.
const deviceName = "WPP-Archive"

// Adapter owns the whatsmeow client of one session. It links the device,
// keeps the connection state on the status machine, and answers identity
// lookups from the device store.
type Adapter struct {
	client  *whatsmeow.Client
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger
}

// NewAdapter opens the device store at dbPath. The store holds at most one
// device; a fresh store yields an unpaired client.
func NewAdapter(ctx context.Context, dbPath string, b *bus.Bus, machine *status.Machine, logger *zap.Logger) (*Adapter, error) {
	device, err := openDevice(ctx, dbPath)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		client:  whatsmeow.NewClient(device, nil),
		bus:     b,
		machine: machine,
		logger:  logger,
	}, nil
}

func openDevice(ctx context.Context, dbPath string) (*wastore.Device, error) {
	wastore.SetOSInfo(deviceName, [3]uint32{0, 1, 0})

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", dbPath)
	container, err := sqlstore.New(ctx, "sqlite3", dsn, nil)
	if err != nil {
		return nil, fmt.Errorf("open device store %s: %w", dbPath, err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}
	return device, nil
}

// IsLoggedIn reports whether the device holds credentials.
func (a *Adapter) IsLoggedIn() bool {
	return a.client != nil && a.client.Store.ID != nil
}

// PhoneNumber returns the linked account's number, or "" when unpaired.
func (a *Adapter) PhoneNumber() string {
	if !a.IsLoggedIn() {
		return ""
	}
	return a.client.Store.ID.User
}

// Start connects a paired device. An unpaired one moves the machine to
// PairingRequired and stays offline until StartQRAuth.
func (a *Adapter) Start() error {
	if !a.IsLoggedIn() {
		a.logger.Info("device not paired, waiting for pairing")
		return a.machine.Transition(status.PairingRequired)
	}
	if err := a.machine.Transition(status.Connecting); err != nil {
		return err
	}
	return a.connect()
}

func (a *Adapter) connect() error {
	a.logger.Info("connecting to WhatsApp", zap.String("device", deviceName))
	if err := a.client.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// Disconnect closes the connection. Credentials are kept.
func (a *Adapter) Disconnect() {
	a.logger.Info("disconnecting from WhatsApp")
	a.client.Disconnect()
}

// Logout unlinks the device and drops its credentials.
func (a *Adapter) Logout(ctx context.Context) error {
	if err := a.client.Logout(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	a.logger.Info("device unlinked")
	return a.machine.Transition(status.PairingRequired)
}

// RegisterEventHandler subscribes handler to client events.
func (a *Adapter) RegisterEventHandler(handler whatsmeow.EventHandler) {
	a.client.AddEventHandler(handler)
}

// qrChannel opens the pairing QR channel. It must precede connect.
func (a *Adapter) qrChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error) {
	if a.IsLoggedIn() {
		return nil, ErrAlreadyPaired
	}
	ch, err := a.client.GetQRChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("open QR channel: %w", err)
	}
	return ch, nil
}

// Download fetches and decrypts the media of a message.
func (a *Adapter) Download(ctx context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error) {
	return a.client.Download(ctx, msg)
}

func (a *Adapter) deviceStore() *wastore.Device {
	if a.client == nil {
		return nil
	}
	return a.client.Store
}

// ContactName returns the best known name of a user JID, or "".
func (a *Adapter) ContactName(ctx context.Context, jid types.JID) string {
	ds := a.deviceStore()
	if ds == nil || ds.Contacts == nil {
		return ""
	}
	info, err := ds.Contacts.GetContact(ctx, jid)
	if err != nil || !info.Found {
		return ""
	}
	for _, name := range []string{info.FullName, info.FirstName, info.BusinessName, info.PushName} {
		if name != "" {
			return name
		}
	}
	return ""
}

// ResolveLID maps a hidden-user JID to its phone number JID. Other JIDs and
// unmapped LIDs come back unchanged.
func (a *Adapter) ResolveLID(ctx context.Context, jid types.JID) types.JID {
	if jid.Server != types.HiddenUserServer {
		return jid
	}
	ds := a.deviceStore()
	if ds == nil || ds.LIDs == nil {
		return jid
	}
	pn, err := ds.LIDs.GetPNForLID(ctx, jid)
	if err != nil || pn.IsEmpty() {
		return jid
	}
	return pn
}
