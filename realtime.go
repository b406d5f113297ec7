package localbase

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
)

type RealtimeOptions struct {
	// Disabled accepts subscriptions but never delivers anything. Callers can
	// check Live and fall back to polling.
	Disabled bool

	Logger  *slog.Logger
	Verbose bool
}

// Realtime delivers committed changes to subscribed channels, synchronously,
// right after each write transaction commits.
type Realtime struct {
	db      *DB
	live    bool
	logger  *slog.Logger
	verbose bool
	remove  func()

	lock     sync.Mutex
	channels []*Channel
}

func NewRealtime(db *DB, opt RealtimeOptions) *Realtime {
	if opt.Logger == nil {
		opt.Logger = db.logger
	}
	rt := &Realtime{
		db:      db,
		live:    !opt.Disabled,
		logger:  opt.Logger,
		verbose: opt.Verbose || db.verbose,
	}
	if rt.live {
		rt.remove = db.Observe(rt.deliver)
	}
	return rt
}

// Live reports whether subscribed handlers will ever fire.
func (rt *Realtime) Live() bool {
	return rt.live
}

// Close detaches from the store and drops every channel.
func (rt *Realtime) Close() {
	if rt.remove != nil {
		rt.remove()
		rt.remove = nil
	}
	rt.lock.Lock()
	chs := rt.channels
	rt.channels = nil
	rt.lock.Unlock()
	for _, ch := range chs {
		ch.setState(ChannelClosed)
	}
}

// Channel creates a new, not yet subscribed channel.
func (rt *Realtime) Channel(name string) *Channel {
	return &Channel{rt: rt, name: name, state: ChannelClosed}
}

// Channels returns subscribed channels in subscription order.
func (rt *Realtime) Channels() []*Channel {
	rt.lock.Lock()
	defer rt.lock.Unlock()
	return slices.Clone(rt.channels)
}

// RemoveChannel unsubscribes ch. Removing an unknown channel does nothing.
func (rt *Realtime) RemoveChannel(ch *Channel) {
	rt.lock.Lock()
	rt.channels = slices.DeleteFunc(rt.channels, func(c *Channel) bool { return c == ch })
	rt.lock.Unlock()
	ch.setState(ChannelClosed)
}

func (rt *Realtime) deliver(changes []*Change) {
	chs := rt.Channels()
	ctx := context.Background()
	for _, chg := range changes {
		for _, ch := range chs {
			for _, h := range ch.matching(chg) {
				if rt.verbose {
					rt.logger.LogAttrs(ctx, slog.LevelDebug, "localbase: realtime", slog.String("channel", ch.name), slog.String("table", chg.Table), slog.String("op", chg.Op.String()), slog.String("id", chg.Key()))
				}
				h(chg.clone())
			}
		}
	}
}

func (chg *Change) clone() *Change {
	c := *chg
	c.Row = chg.Row.Clone()
	c.OldRow = chg.OldRow.Clone()
	return &c
}

type ChannelState string

const (
	ChannelClosed ChannelState = "closed"
	ChannelJoined ChannelState = "joined"
)

// ChangeFilter selects which changes reach a handler. Event is "*" (or empty)
// for any operation, else INSERT, UPDATE or DELETE. An empty Table matches
// every table. Filter is a single condition in REST filter syntax:
// "user_id=eq.u1", "status=neq.draft" or "kind=in.(a,b)".
type ChangeFilter struct {
	Event  string
	Schema string
	Table  string
	Filter string
}

type Channel struct {
	rt   *Realtime
	name string

	lock     sync.Mutex
	state    ChannelState
	handlers []*changeHandler
	err      error
}

type changeHandler struct {
	any   bool
	op    Op
	table string
	cond  *filter
	fn    func(*Change)
}

func (ch *Channel) Name() string {
	return ch.name
}

func (ch *Channel) State() ChannelState {
	ch.lock.Lock()
	defer ch.lock.Unlock()
	return ch.state
}

// Err returns the first invalid filter passed to On, if any.
func (ch *Channel) Err() error {
	ch.lock.Lock()
	defer ch.lock.Unlock()
	return ch.err
}

func (ch *Channel) setState(s ChannelState) {
	ch.lock.Lock()
	ch.state = s
	ch.lock.Unlock()
}

// On registers fn for changes matching f. An invalid filter is reported by
// Err and the handler is not registered.
func (ch *Channel) On(f ChangeFilter, fn func(chg *Change)) *Channel {
	h, err := parseChangeFilter(f)
	ch.lock.Lock()
	defer ch.lock.Unlock()
	if err != nil {
		if ch.err == nil {
			ch.err = fmt.Errorf("channel %s: %w", ch.name, err)
		}
		return ch
	}
	h.fn = fn
	ch.handlers = append(ch.handlers, h)
	return ch
}

// Subscribe starts delivery to the channel's handlers.
func (ch *Channel) Subscribe() *Channel {
	rt := ch.rt
	rt.lock.Lock()
	if !slices.Contains(rt.channels, ch) {
		rt.channels = append(rt.channels, ch)
	}
	rt.lock.Unlock()
	ch.setState(ChannelJoined)
	if !rt.live {
		rt.logger.LogAttrs(context.Background(), slog.LevelDebug, "localbase: realtime disabled, channel will not receive changes", slog.String("channel", ch.name))
	}
	return ch
}

func (ch *Channel) Unsubscribe() {
	ch.rt.RemoveChannel(ch)
}

func (ch *Channel) matching(chg *Change) []func(*Change) {
	ch.lock.Lock()
	defer ch.lock.Unlock()
	if ch.state != ChannelJoined {
		return nil
	}
	var fns []func(*Change)
	for _, h := range ch.handlers {
		if h.matches(chg) {
			fns = append(fns, h.fn)
		}
	}
	return fns
}

func (h *changeHandler) matches(chg *Change) bool {
	if !h.any && h.op != chg.Op {
		return false
	}
	if h.table != "" && h.table != chg.Table {
		return false
	}
	if h.cond == nil {
		return true
	}
	row := chg.Row
	if row == nil {
		row = chg.OldRow
	}
	return h.cond.matchesText(row)
}

func parseChangeFilter(f ChangeFilter) (*changeHandler, error) {
	h := &changeHandler{table: f.Table}
	if f.Schema != "" && f.Schema != "public" {
		return nil, fmt.Errorf("unsupported schema %q", f.Schema)
	}
	switch f.Event {
	case "", "*":
		h.any = true
	default:
		op, err := ParseOp(strings.ToUpper(f.Event))
		if err != nil || op == OpNone {
			return nil, fmt.Errorf("invalid event %q", f.Event)
		}
		h.op = op
	}
	if f.Filter != "" {
		cond, err := parseFilterExpr(f.Filter)
		if err != nil {
			return nil, err
		}
		h.cond = cond
	}
	return h, nil
}

// parseFilterExpr parses "column=op.value". Values stay textual and are
// compared with the text form of row values.
func parseFilterExpr(s string) (*filter, error) {
	field, rhs, ok := strings.Cut(s, "=")
	if !ok || field == "" {
		return nil, fmt.Errorf("invalid filter %q: expected column=op.value", s)
	}
	opName, val, ok := strings.Cut(rhs, ".")
	if !ok {
		return nil, fmt.Errorf("invalid filter %q: expected column=op.value", s)
	}
	switch opName {
	case "eq":
		return &filter{field: field, op: filterEq, values: []any{val}}, nil
	case "neq":
		return &filter{field: field, op: filterNeq, values: []any{val}}, nil
	case "in":
		inner, ok := strings.CutPrefix(val, "(")
		if ok {
			inner, ok = strings.CutSuffix(inner, ")")
		}
		if !ok {
			return nil, fmt.Errorf("invalid filter %q: in expects (a,b,...)", s)
		}
		var vals []any
		for _, v := range strings.Split(inner, ",") {
			vals = append(vals, v)
		}
		return &filter{field: field, op: filterIn, values: vals}, nil
	default:
		return nil, fmt.Errorf("invalid filter %q: unsupported operator %q", s, opName)
	}
}

func (f *filter) matchesText(row Record) bool {
	v, present := row[f.field]
	text := formatFilterValue(v)
	if !present {
		text = ""
	}
	switch f.op {
	case filterEq:
		return present && text == f.values[0]
	case filterNeq:
		return !present || text != f.values[0]
	case filterIn:
		return present && slices.Contains(f.values, any(text))
	default:
		return false
	}
}
