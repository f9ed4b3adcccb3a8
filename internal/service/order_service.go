package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/screenbridge/broker/internal/domain"
	"github.com/screenbridge/broker/internal/observability"
	"github.com/screenbridge/broker/internal/repository"
	"github.com/screenbridge/broker/internal/security"
)

// OrderView is the trimmed history row exposed to callers; credentials never
// leave the store through the history path.
type OrderView struct {
	ID           uint       `json:"id"`
	CreatedAt    time.Time  `json:"created_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	FinishReason *string    `json:"finish_reason,omitempty"`
	FromDeviceID int64      `json:"from_device_id"`
	ToDeviceID   int64      `json:"to_device_id"`
	RoomID       string     `json:"room_id"`
}

type HistoryPage struct {
	Total  int64       `json:"total"`
	Index  int         `json:"index"`
	Limit  int         `json:"limit"`
	Orders []OrderView `json:"orders"`
}

type SignalingEndpoint struct {
	Host string
	Port int
}

type OrderService struct {
	orders      repository.OrderRepository
	onlines     OnlineServiceInterface
	statusCache StatusCacheStore
	tokens      *security.TokenIssuer
	signaling   SignalingEndpoint
	relays      []string
	reflexes    []string
	statusTTL   time.Duration
}

func NewOrderService(
	orders repository.OrderRepository,
	onlines OnlineServiceInterface,
	statusCache StatusCacheStore,
	tokens *security.TokenIssuer,
	signaling SignalingEndpoint,
	relays, reflexes []string,
	statusTTL time.Duration,
) *OrderService {
	if statusCache == nil {
		statusCache = NewNoopStatusCacheStore()
	}
	return &OrderService{
		orders:      orders,
		onlines:     onlines,
		statusCache: statusCache,
		tokens:      tokens,
		signaling:   signaling,
		relays:      relays,
		reflexes:    reflexes,
		statusTTL:   statusTTL,
	}
}

// CreateOrder brokers a new session from a controlling device to a
// controlled device. Room, service and client identifiers and the session
// credentials are minted here; the repository inserts the order and both
// projections atomically. Duplicate-room and duplicate-active-session are
// expected outcomes of racing connection attempts and come back as the typed
// repository errors for the caller to decide on.
func (s *OrderService) CreateOrder(ctx context.Context, fromDeviceID, toDeviceID, clientRequestID int64) (*domain.Order, error) {
	roomID := security.NewRoomID()
	p2p, err := security.NewP2PCredentials()
	if err != nil {
		observability.RecordOrderCreate("error")
		return nil, fmt.Errorf("mint p2p credentials: %w", err)
	}
	authToken, err := s.tokens.SignSessionToken(roomID, fromDeviceID, toDeviceID)
	if err != nil {
		observability.RecordOrderCreate("error")
		return nil, fmt.Errorf("sign session token: %w", err)
	}
	relayServer := ""
	if len(s.relays) > 0 {
		relayServer = s.relays[0]
	}
	order := &domain.Order{
		FromDeviceID:    fromDeviceID,
		ToDeviceID:      toDeviceID,
		ClientRequestID: clientRequestID,
		SignalingHost:   s.signaling.Host,
		SignalingPort:   s.signaling.Port,
		RoomID:          roomID,
		ServiceID:       security.NewServiceID(),
		ClientID:        security.NewClientID(),
		AuthToken:       authToken,
		P2PUser:         p2p.User,
		P2PToken:        p2p.Token,
		RelayServer:     relayServer,
		ReflexServers:   domain.JoinReflexServers(s.reflexes),
	}

	if err := s.orders.CreateActive(order); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateRoom):
			observability.RecordOrderCreate("duplicate_room")
		case errors.Is(err, repository.ErrDuplicateActiveSession):
			observability.RecordOrderCreate("duplicate_active_session")
		default:
			observability.RecordOrderCreate("error")
		}
		return nil, err
	}
	observability.RecordOrderCreate("success")

	if err := s.statusCache.Invalidate(ctx, toDeviceID); err != nil {
		slog.WarnContext(ctx, "invalidate status cache after create", "to_device_id", toDeviceID, "error", err)
	}
	// The online audit log is reporting-only; its failure never rolls back
	// the session.
	if err := s.onlines.Record(fromDeviceID, toDeviceID); err != nil {
		slog.ErrorContext(ctx, "append online record", "from_device_id", fromDeviceID, "to_device_id", toDeviceID, "error", err)
	}

	slog.InfoContext(ctx, "order created",
		"room_id", order.RoomID,
		"from_device_id", fromDeviceID,
		"to_device_id", toDeviceID,
	)
	return order, nil
}

// Finish terminates the session in the given room. The first caller to
// supply a reason wins; unknown or already-finished rooms report false.
func (s *OrderService) Finish(ctx context.Context, roomID, reason string) (bool, error) {
	order, err := s.orders.FindByRoomID(roomID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			observability.RecordOrderFinish(reason, "not_found")
			return false, nil
		}
		observability.RecordOrderFinish(reason, "error")
		return false, err
	}
	finished, err := s.orders.FinishByRoomID(roomID, reason)
	if err != nil {
		observability.RecordOrderFinish(reason, "error")
		return false, err
	}
	if err := s.statusCache.Invalidate(ctx, order.ToDeviceID); err != nil {
		slog.WarnContext(ctx, "invalidate status cache after finish", "to_device_id", order.ToDeviceID, "error", err)
	}
	if !finished {
		observability.RecordOrderFinish(reason, "already_finished")
		return false, nil
	}
	observability.RecordOrderFinish(reason, "success")
	slog.InfoContext(ctx, "order finished", "room_id", roomID, "reason", reason)
	return true, nil
}

// FinishByDeviceClose closes the room on behalf of deviceID. The device must
// be one of the order's recorded endpoints; a mismatch is a no-op so a stale
// close request cannot terminate somebody else's session.
func (s *OrderService) FinishByDeviceClose(ctx context.Context, roomID string, deviceID int64) (bool, error) {
	order, err := s.orders.FindByRoomID(roomID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return false, nil
		}
		return false, err
	}
	var reason string
	switch deviceID {
	case order.ToDeviceID:
		reason = domain.FinishReasonControlledClose
	case order.FromDeviceID:
		reason = domain.FinishReasonControllingClose
	default:
		slog.WarnContext(ctx, "close request from device not on order",
			"room_id", roomID, "device_id", deviceID)
		return false, nil
	}
	return s.Finish(ctx, roomID, reason)
}

// FinishByControlledLogout ends the single inbound session of a controlled
// device, if any.
func (s *OrderService) FinishByControlledLogout(ctx context.Context, deviceID int64) (bool, error) {
	current, err := s.orders.FindActiveByToDeviceID(deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return false, nil
		}
		return false, err
	}
	return s.Finish(ctx, current.RoomID, domain.FinishReasonControlledLogout)
}

// FinishByControllingLogout ends every outbound session of a controlling
// device and reports how many were finished.
func (s *OrderService) FinishByControllingLogout(ctx context.Context, deviceID int64) (int, error) {
	currents, err := s.orders.ListActiveByFromDeviceID(deviceID)
	if err != nil {
		return 0, err
	}
	finished := 0
	for _, current := range currents {
		ok, err := s.Finish(ctx, current.RoomID, domain.FinishReasonControllingLogout)
		if err != nil {
			return finished, err
		}
		if ok {
			finished++
		}
	}
	return finished, nil
}

func (s *OrderService) OrderByRoomID(roomID string) (*domain.Order, error) {
	return s.orders.FindByRoomID(roomID)
}

func (s *OrderService) ActiveByControlledDevice(deviceID int64) (*domain.CurrentOrder, error) {
	return s.orders.FindActiveByToDeviceID(deviceID)
}

func (s *OrderService) ActiveByControllingDevice(deviceID int64) ([]domain.CurrentOrder, error) {
	return s.orders.ListActiveByFromDeviceID(deviceID)
}

func (s *OrderService) StatusesByControllingDevice(deviceID int64) ([]domain.OrderStatus, error) {
	return s.orders.ListStatusByFromDeviceID(deviceID)
}

// StatusByControlledDevice reads through the status cache. Absent sessions
// are not cached; only live status rows are.
func (s *OrderService) StatusByControlledDevice(ctx context.Context, deviceID int64) (*domain.OrderStatus, error) {
	cached, hit, err := s.statusCache.Get(ctx, deviceID)
	if err != nil {
		slog.WarnContext(ctx, "status cache read", "to_device_id", deviceID, "error", err)
	} else if hit {
		return cached, nil
	}
	status, err := s.orders.FindStatusByToDeviceID(deviceID)
	if err != nil {
		return nil, err
	}
	if err := s.statusCache.Set(ctx, status, s.statusTTL); err != nil {
		slog.WarnContext(ctx, "status cache write", "to_device_id", deviceID, "error", err)
	}
	return status, nil
}

func (s *OrderService) History(offset, limit int) (*HistoryPage, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 0 {
		limit = 0
	}
	total, err := s.orders.CountOrders()
	if err != nil {
		return nil, err
	}
	orders, err := s.orders.ListHistory(offset, limit)
	if err != nil {
		return nil, err
	}
	views := make([]OrderView, 0, len(orders))
	for _, order := range orders {
		views = append(views, OrderView{
			ID:           order.ID,
			CreatedAt:    order.CreatedAt,
			FinishedAt:   order.FinishedAt,
			FinishReason: order.FinishReason,
			FromDeviceID: order.FromDeviceID,
			ToDeviceID:   order.ToDeviceID,
			RoomID:       order.RoomID,
		})
	}
	return &HistoryPage{Total: total, Index: offset, Limit: limit, Orders: views}, nil
}

func (s *OrderService) CountActive() (int64, error) {
	return s.orders.CountActive()
}
