package routing

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/skatterlabs/skatter/internal/config"
	"github.com/skatterlabs/skatter/internal/query"
	"github.com/skatterlabs/skatter/internal/transport"
	"github.com/skatterlabs/skatter/internal/util"
)

// Announcement is the JSON value a backend node publishes under the
// routing prefix: its address and the segments it owns per table.
type Announcement struct {
	Addr   string              `json:"addr"`
	Tables map[string][]string `json:"tables"`
}

// etcdTable keeps the routing snapshot in sync with backend
// announcements stored under an etcd prefix. Every membership change
// rebuilds the snapshot and bumps the epoch.
type etcdTable struct {
	cli    *clientv3.Client
	prefix string
	picker Picker
	opts   Options

	mu       sync.RWMutex
	snapshot Snapshot

	watchCtx context.Context
	cancel   context.CancelFunc
	started  bool
	done     chan struct{}
	logger   zerolog.Logger
}

func NewEtcd(cfg config.EtcdRouting, picker Picker, opts Options, logger zerolog.Logger) (Table, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &etcdTable{
		cli:    cli,
		prefix: cfg.Prefix,
		picker: picker,
		opts:   opts,
		snapshot: Snapshot{
			Created: util.Timestamp(),
			Tables:  make(map[string][]SegmentAssignment),
		},
		watchCtx: ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		logger:   logger.With().Str("component", "routing").Logger(),
	}, nil
}

func (t *etcdTable) Start() error {
	if err := t.reload(t.watchCtx); err != nil {
		return err
	}

	t.started = true
	go t.watchLoop()

	return nil
}

func (t *etcdTable) Resolve(table string) (query.ScatterPlan, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.snapshot.planFor(table, t.picker)
}

func (t *etcdTable) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.snapshot.Copy()
}

func (t *etcdTable) Epoch() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.snapshot.Epoch
}

func (t *etcdTable) Shutdown() {
	t.cancel()
	if t.started {
		<-t.done
	}
	_ = t.cli.Close()
}

func (t *etcdTable) watchLoop() {
	defer close(t.done)

	wch := t.cli.Watch(t.watchCtx, t.prefix, clientv3.WithPrefix())
	for {
		select {
		case <-t.watchCtx.Done():
			return
		case wresp, ok := <-wch:
			if !ok {
				return
			}
			if err := wresp.Err(); err != nil {
				t.logger.Warn().Err(err).Msg("Routing watch error")
				continue
			}
			if err := t.reload(t.watchCtx); err != nil {
				t.logger.Err(err).Msg("Failed to reload routing snapshot")
			}
		}
	}
}

// reload rebuilds the whole snapshot from the current prefix contents.
// Full rebuilds keep the logic simple; announcements are small.
func (t *etcdTable) reload(ctx context.Context) error {
	resp, err := t.cli.Get(ctx, t.prefix, clientv3.WithPrefix())
	if err != nil {
		return err
	}

	values := make([][]byte, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		values = append(values, kv.Value)
	}

	t.mu.Lock()
	prev := t.snapshot
	next := buildSnapshot(values, prev.Epoch+1, t.logger)
	t.snapshot = next
	t.mu.Unlock()

	if t.opts.OnEndpointGone != nil {
		for _, endpoint := range goneEndpoints(prev, next) {
			t.opts.OnEndpointGone(endpoint)
		}
	}

	t.logger.Info().Msgf("Routing snapshot rebuilt: epoch %d, %d tables", next.Epoch, len(next.Tables))

	return nil
}

func buildSnapshot(values [][]byte, epoch uint64, logger zerolog.Logger) Snapshot {
	snapshot := Snapshot{
		Created: util.Timestamp(),
		Epoch:   epoch,
		Tables:  make(map[string][]SegmentAssignment),
	}

	type segmentKey struct {
		table   string
		segment string
	}
	replicas := make(map[segmentKey][]transport.Endpoint)

	for _, value := range values {
		var ann Announcement
		if err := json.Unmarshal(value, &ann); err != nil {
			logger.Warn().Err(err).Msg("Skipping malformed backend announcement")
			continue
		}
		endpoint, err := transport.ParseEndpoint(ann.Addr)
		if err != nil {
			logger.Warn().Err(err).Msg("Skipping backend announcement with a bad address")
			continue
		}

		for table, segments := range ann.Tables {
			for _, segment := range segments {
				key := segmentKey{table: table, segment: segment}
				replicas[key] = append(replicas[key], endpoint)
			}
		}
	}

	for key, endpoints := range replicas {
		sort.Slice(endpoints, func(i, j int) bool {
			return endpoints[i].String() < endpoints[j].String()
		})
		snapshot.Tables[key.table] = append(snapshot.Tables[key.table], SegmentAssignment{
			Segment:   key.segment,
			Endpoints: endpoints,
		})
	}
	for table := range snapshot.Tables {
		segments := snapshot.Tables[table]
		sort.Slice(segments, func(i, j int) bool {
			return segments[i].Segment < segments[j].Segment
		})
		snapshot.Tables[table] = segments
	}

	return snapshot
}

// goneEndpoints lists endpoints present in prev but absent from next.
func goneEndpoints(prev, next Snapshot) []transport.Endpoint {
	present := make(map[transport.Endpoint]struct{})
	for _, segments := range next.Tables {
		for _, assignment := range segments {
			for _, endpoint := range assignment.Endpoints {
				present[endpoint] = struct{}{}
			}
		}
	}

	seen := make(map[transport.Endpoint]struct{})
	var gone []transport.Endpoint
	for _, segments := range prev.Tables {
		for _, assignment := range segments {
			for _, endpoint := range assignment.Endpoints {
				if _, ok := present[endpoint]; ok {
					continue
				}
				if _, ok := seen[endpoint]; ok {
					continue
				}
				seen[endpoint] = struct{}{}
				gone = append(gone, endpoint)
			}
		}
	}

	return gone
}
