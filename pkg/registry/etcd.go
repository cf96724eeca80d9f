// Package registry discovers feed channel endpoints through etcd. Endpoints
// live under a key prefix as <prefix>/<id> -> websocket URL, usually attached
// to a lease so dead servers disappear on their own.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const DefaultPrefix = "/feedwire/endpoints"

func NewClient(endpoints []string) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
}

func key(prefix, id string) string {
	return strings.TrimSuffix(prefix, "/") + "/" + id
}

// RegisterEndpoint publishes url under id with a ttl-second lease kept alive
// until the returned cancel is called.
func RegisterEndpoint(ctx context.Context, cli *clientv3.Client, prefix, id, url string, ttl int64) (clientv3.LeaseID, context.CancelFunc, error) {
	lease, err := cli.Grant(ctx, ttl)
	if err != nil {
		return 0, nil, fmt.Errorf("grant lease: %w", err)
	}
	if _, err := cli.Put(ctx, key(prefix, id), url, clientv3.WithLease(lease.ID)); err != nil {
		return 0, nil, fmt.Errorf("put %s: %w", id, err)
	}

	kctx, cancel := context.WithCancel(context.Background())
	ch, err := cli.KeepAlive(kctx, lease.ID)
	if err != nil {
		cancel()
		return 0, nil, fmt.Errorf("keepalive: %w", err)
	}
	go func() {
		for range ch {
		}
	}()
	return lease.ID, cancel, nil
}

// Resolve reads the current endpoint set.
func Resolve(ctx context.Context, cli *clientv3.Client, prefix string) (map[string]string, error) {
	resp, err := cli.Get(ctx, strings.TrimSuffix(prefix, "/")+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", prefix, err)
	}
	return endpointsFromKVs(prefix, resp.Kvs), nil
}

// resyncDelay spaces out re-reads after the watch channel ends.
var resyncDelay = time.Second

var errWatchClosed = errors.New("watch channel closed")

// Watch calls fn with the full endpoint set after every change under prefix
// until ctx is done. The first call happens immediately with the current set.
// When etcd ends the watch (compaction, cancellation, lost stream) the set is
// read again and watching resumes from the new revision.
func Watch(ctx context.Context, cli *clientv3.Client, prefix string, logger *zap.Logger, fn func(map[string]string)) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := strings.TrimSuffix(prefix, "/") + "/"
	first := true
	for {
		resp, err := cli.Get(ctx, p, clientv3.WithPrefix())
		switch {
		case err == nil:
			current := endpointsFromKVs(prefix, resp.Kvs)
			fn(copyMap(current))
			first = false

			wctx, cancel := context.WithCancel(ctx)
			wch := cli.Watch(wctx, p, clientv3.WithPrefix(), clientv3.WithRev(resp.Header.Revision+1))
			err = follow(prefix, current, wch, logger, fn)
			cancel()
		case first:
			return fmt.Errorf("get %s: %w", prefix, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("endpoint watch ended, resyncing", zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(resyncDelay):
		}
	}
}

// follow applies watch events to current until the channel reports an error
// or closes.
func follow(prefix string, current map[string]string, wch clientv3.WatchChan, logger *zap.Logger, fn func(map[string]string)) error {
	for wr := range wch {
		if err := wr.Err(); err != nil {
			return err
		}
		if len(wr.Events) == 0 {
			continue
		}
		for _, ev := range wr.Events {
			applyEvent(prefix, current, ev)
		}
		logger.Info("endpoint set changed", zap.Int("endpoints", len(current)))
		fn(copyMap(current))
	}
	return errWatchClosed
}

func endpointsFromKVs(prefix string, kvs []*mvccpb.KeyValue) map[string]string {
	out := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		if id := idFromKey(prefix, kv.Key); id != "" {
			out[id] = string(kv.Value)
		}
	}
	return out
}

func applyEvent(prefix string, set map[string]string, ev *clientv3.Event) {
	id := idFromKey(prefix, ev.Kv.Key)
	if id == "" {
		return
	}
	switch ev.Type {
	case mvccpb.PUT:
		set[id] = string(ev.Kv.Value)
	case mvccpb.DELETE:
		delete(set, id)
	}
}

func idFromKey(prefix string, k []byte) string {
	id, ok := strings.CutPrefix(string(k), strings.TrimSuffix(prefix, "/")+"/")
	if !ok || strings.Contains(id, "/") {
		return ""
	}
	return id
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
