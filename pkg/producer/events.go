package producer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"

	"pulsegate/pkg/config"
	"pulsegate/pkg/engine"
	"pulsegate/pkg/model"
)

// ErrInvalidEventName is returned by Track for names that do not follow
// the snake_case naming rules.
var ErrInvalidEventName = errors.New("invalid event name")

// Standard event names.
const (
	EventProductAddedToCart     = "product_added_to_cart"
	EventProductRemovedFromCart = "product_removed_from_cart"
	EventCartViewed             = "cart_viewed"
	EventCheckoutStarted        = "checkout_started"
	EventCheckoutCompleted      = "checkout_completed"
	EventSale                   = "sale"
	EventUserRegistered         = "user_registered"
	EventUserLoggedIn           = "user_logged_in"
	EventUserLoggedOut          = "user_logged_out"
	EventPageView               = "page_view"
	EventSearch                 = "search"
	EventNewsletterSignup       = "newsletter_signup"
	EventContactFormSubmitted   = "contact_form_submitted"
)

const (
	minEventNameLen = 3
	maxEventNameLen = 50
)

var eventNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

var eventFields = []string{
	"event_name", "properties", "user", "timestamp", "url",
	"user_agent_hash", "session_id_hash",
}

// ValidEventName reports whether name is 3 to 50 characters of lower
// case letters, digits and underscores, starting with a letter.
func ValidEventName(name string) bool {
	return len(name) >= minEventNameLen && len(name) <= maxEventNameLen && eventNamePattern.MatchString(name)
}

type eventScope struct {
	data map[string]any
	now  time.Time
}

// EventOption adds optional detail to a tracked event.
type EventOption func(*eventScope)

// WithEventUser attributes the event to a user id.
func WithEventUser(id any) EventOption {
	return func(s *eventScope) {
		if id != nil {
			s.data["user"] = map[string]any{"id": id}
		}
	}
}

// WithEventRequest records the request url and fingerprints.
func WithEventRequest(r *http.Request) EventOption {
	return func(s *eventScope) {
		if r == nil {
			return
		}
		ua := r.UserAgent()
		s.data["url"] = FullURL(r)
		s.data["user_agent_hash"] = UserAgentHash(ua)
		s.data["session_id_hash"] = SessionIDHash(ClientIP(r), ua, s.now)
	}
}

// EventTracker records custom business events.
type EventTracker struct {
	base
}

func NewEventTracker(cfg *config.Config, sink engine.Sink, log logrus.FieldLogger) *EventTracker {
	chain := engine.NewProcessorChain(
		engine.NewAllowListProcessor("allow_list", eventFields...),
	)
	return &EventTracker{base: newBase(cfg, model.Events, sink, chain, log)}
}

// Track validates name and records the event. Only the name check can
// fail; delivery problems are never reported to the caller.
func (t *EventTracker) Track(ctx context.Context, name string, props map[string]any, opts ...EventOption) error {
	if !ValidEventName(name) {
		return fmt.Errorf("%w: %q must be 3-50 chars of lowercase letters, digits and underscores, starting with a letter", ErrInvalidEventName, name)
	}
	t.TrackUnsafe(ctx, name, props, opts...)
	return nil
}

// TrackUnsafe records the event without validating its name.
func (t *EventTracker) TrackUnsafe(ctx context.Context, name string, props map[string]any, opts ...EventOption) {
	if !t.Enabled() {
		return
	}
	if props == nil {
		props = map[string]any{}
	}
	now := t.now()
	data := map[string]any{
		"event_name": name,
		"properties": Sanitize(props),
		"user":       nil,
		"timestamp":  now.UTC().Format(isoMillis),
		"url":        nil,
	}
	scope := &eventScope{data: data, now: now}
	for _, opt := range opts {
		opt(scope)
	}
	t.emit(ctx, data)
}

// ProductAddedToCart records a cart addition. category may be empty.
func (t *EventTracker) ProductAddedToCart(ctx context.Context, productID, productName string, price float64, quantity int, category string, extra map[string]any, opts ...EventOption) error {
	props := map[string]any{
		"product_id":   productID,
		"product_name": productName,
		"price":        price,
		"quantity":     quantity,
		"total_value":  price * float64(quantity),
	}
	if category != "" {
		props["category"] = category
	}
	return t.Track(ctx, EventProductAddedToCart, merge(props, extra), opts...)
}

// Sale records a completed order. currency defaults to USD.
func (t *EventTracker) Sale(ctx context.Context, orderID string, totalAmount float64, products []map[string]any, currency string, extra map[string]any, opts ...EventOption) error {
	if currency == "" {
		currency = "USD"
	}
	props := map[string]any{
		"order_id":      orderID,
		"total_amount":  totalAmount,
		"currency":      currency,
		"products":      products,
		"product_count": len(products),
	}
	return t.Track(ctx, EventSale, merge(props, extra), opts...)
}

func (t *EventTracker) UserRegistered(ctx context.Context, userID any, extra map[string]any, opts ...EventOption) error {
	return t.Track(ctx, EventUserRegistered, merge(map[string]any{}, extra), append([]EventOption{WithEventUser(userID)}, opts...)...)
}

func (t *EventTracker) UserLoggedIn(ctx context.Context, userID any, extra map[string]any, opts ...EventOption) error {
	return t.Track(ctx, EventUserLoggedIn, merge(map[string]any{}, extra), append([]EventOption{WithEventUser(userID)}, opts...)...)
}

func (t *EventTracker) PageView(ctx context.Context, pageName string, extra map[string]any, opts ...EventOption) error {
	return t.Track(ctx, EventPageView, merge(map[string]any{"page_name": pageName}, extra), opts...)
}

// merge copies extra over base and returns base.
func merge(base, extra map[string]any) map[string]any {
	for k, v := range extra {
		base[k] = v
	}
	return base
}
