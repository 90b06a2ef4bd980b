package carrier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linxGnu/gosmpp"
	"github.com/linxGnu/gosmpp/pdu"

	"github.com/myhometown/textline/internal/config"
	"github.com/myhometown/textline/pkg/codes"
	"github.com/myhometown/textline/pkg/statusmap"
)

// SMPPReceiver maintains a receiver bind to an SMPP carrier and turns
// incoming delivery receipts into StatusUpdates. It is an optional second
// status source next to the HTTP callback: both feed the same handler, and
// the store's transition guard makes duplicate updates harmless.
type SMPPReceiver struct {
	config  config.SMPPReceiverConfig
	handler StatusHandlerFunc

	session    *gosmpp.Session
	status     atomic.Value
	connMu     sync.Mutex
	stopSignal chan struct{}
	wg         sync.WaitGroup
}

func NewSMPPReceiver(cfg config.SMPPReceiverConfig, handler StatusHandlerFunc) (*SMPPReceiver, error) {
	if cfg.Host == "" || cfg.Port == 0 || cfg.SystemID == "" {
		return nil, errors.New("missing required SMPP config fields (Host, Port, SystemID)")
	}
	if cfg.EnquireLink <= 0 {
		cfg.EnquireLink = 30 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.ConnectRetryDelay <= 0 {
		cfg.ConnectRetryDelay = 5 * time.Second
	}

	r := &SMPPReceiver{
		config:     cfg,
		handler:    handler,
		stopSignal: make(chan struct{}),
	}
	r.status.Store(codes.ConnStatusDisconnected)
	return r, nil
}

// Start establishes the receiver bind and keeps it alive until Shutdown.
// A failed bind is retried after ConnectRetryDelay.
func (r *SMPPReceiver) Start(ctx context.Context) error {
	if err := r.connectAndBind(ctx); err != nil {
		return err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.config.ConnectRetryDelay)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopSignal:
				r.closeSession(context.Background())
				return
			case <-ticker.C:
				if r.Status() == codes.ConnStatusDisconnected {
					slog.Info("SMPP receiver disconnected, attempting rebind",
						slog.String("host", r.config.Host))
					if err := r.connectAndBind(context.Background()); err != nil {
						slog.Warn("SMPP receiver rebind failed", slog.Any("error", err))
					}
				}
			}
		}
	}()
	return nil
}

func (r *SMPPReceiver) connectAndBind(ctx context.Context) error {
	r.connMu.Lock()
	defer r.connMu.Unlock()

	if r.session != nil && r.Status() != codes.ConnStatusDisconnected {
		return errors.New("session already active or connecting")
	}

	r.status.Store(codes.ConnStatusConnecting)
	slog.InfoContext(ctx, "Connecting SMPP receiver bind",
		slog.String("host", r.config.Host),
		slog.Int("port", r.config.Port),
		slog.String("system_id", r.config.SystemID),
	)

	auth := gosmpp.Auth{
		SMSC:       fmt.Sprintf("%s:%d", r.config.Host, r.config.Port),
		SystemID:   r.config.SystemID,
		Password:   r.config.Password,
		SystemType: r.config.SystemType,
	}
	connector := gosmpp.RXConnector(gosmpp.NonTLSDialer, auth)

	settings := gosmpp.Settings{
		EnquireLink:  r.config.EnquireLink,
		ReadTimeout:  r.config.ReadTimeout,
		WriteTimeout: r.config.ReadTimeout,

		WindowedRequestTracking: &gosmpp.WindowedRequestTracking{
			MaxWindowSize:        10,
			PduExpireTimeOut:     r.config.ReadTimeout,
			ExpireCheckTimer:     5 * time.Second,
			EnableAutoRespond:    false,
			OnReceivedPduRequest: r.handleReceivedPduRequest(),
		},

		OnReceivingError: func(err error) {
			slog.Error("SMPP receiver read error", slog.Any("error", err))
		},
		OnRebindingError: func(err error) {
			slog.Error("SMPP receiver rebind error", slog.Any("error", err))
		},
		OnClosed: func(state gosmpp.State) {
			slog.Warn("SMPP receiver session closed", slog.String("final_state", state.String()))
			r.status.Store(codes.ConnStatusDisconnected)
		},
	}

	sess, err := gosmpp.NewSession(connector, settings, 5*time.Second)
	if err != nil {
		r.status.Store(codes.ConnStatusDisconnected)
		return fmt.Errorf("gosmpp.NewSession failed: %w", err)
	}

	r.session = sess
	r.status.Store(codes.ConnStatusBound)
	slog.InfoContext(ctx, "SMPP receiver bound")
	return nil
}

func (r *SMPPReceiver) handleReceivedPduRequest() func(pdu.PDU) (pdu.PDU, bool) {
	return func(p pdu.PDU) (resp pdu.PDU, closeSession bool) {
		ctx := context.Background()

		switch pd := p.(type) {
		case *pdu.DeliverSM:
			r.processDeliverSM(ctx, pd)
			return pd.GetResponse(), false

		case *pdu.EnquireLink:
			return pd.GetResponse(), false

		case *pdu.Unbind:
			slog.Info("Received Unbind from SMPP carrier")
			r.status.Store(codes.ConnStatusUnbinding)
			go r.closeSession(context.Background())
			return pd.GetResponse(), false

		default:
			slog.Warn("Unexpected PDU on receiver bind",
				slog.String("pdu_cmd", p.GetHeader().CommandID.String()))
		}
		return nil, false
	}
}

// processDeliverSM parses a standard delivery receipt and forwards it as a
// StatusUpdate. Mobile-originated messages are logged and dropped; this
// bind exists only for receipts.
func (r *SMPPReceiver) processDeliverSM(ctx context.Context, p *pdu.DeliverSM) {
	if !p.IsReceipt() {
		slog.InfoContext(ctx, "Ignoring mobile originated message on receiver bind")
		return
	}

	receipt, err := p.Receipt()
	if err != nil {
		slog.WarnContext(ctx, "Failed to parse delivery receipt short_message", slog.Any("error", err))
		return
	}

	update := StatusUpdate{
		CarrierMessageID: receipt.MessageID,
		Status:           statusmap.MapCarrierStatus(receipt.Stat, "smpp"),
		Timestamp:        receipt.DoneDate,
	}
	if receipt.Err != "" && receipt.Err != "000" {
		errMsg := fmt.Sprintf("smpp receipt error code %s", receipt.Err)
		update.ErrorMessage = &errMsg
	}

	slog.InfoContext(ctx, "Delivery receipt received",
		slog.String("carrier_msg_id", update.CarrierMessageID),
		slog.String("status", update.Status),
	)

	if err := r.handler(ctx, update); err != nil {
		slog.ErrorContext(ctx, "Status handler failed for delivery receipt",
			slog.String("carrier_msg_id", update.CarrierMessageID),
			slog.Any("error", err),
		)
	}
}

func (r *SMPPReceiver) closeSession(ctx context.Context) {
	r.connMu.Lock()
	defer r.connMu.Unlock()

	if r.session == nil {
		return
	}
	current := r.Status()
	if current == codes.ConnStatusUnbinding || current == codes.ConnStatusDisconnected {
		return
	}

	r.status.Store(codes.ConnStatusUnbinding)
	if err := r.session.Close(); err != nil {
		slog.WarnContext(ctx, "Error closing SMPP receiver session", slog.Any("error", err))
	}
	r.session = nil
	r.status.Store(codes.ConnStatusDisconnected)
}

// Shutdown closes the bind and waits for the keepalive goroutine to exit.
func (r *SMPPReceiver) Shutdown(ctx context.Context) error {
	slog.InfoContext(ctx, "Shutting down SMPP receiver")
	close(r.stopSignal)
	r.wg.Wait()
	r.closeSession(ctx)
	return nil
}

// Status returns the current bind status.
func (r *SMPPReceiver) Status() string {
	return r.status.Load().(string)
}
