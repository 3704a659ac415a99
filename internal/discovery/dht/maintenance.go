package dht

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-dht/pkg/types"
)

// ============================================================================
//                              后台循环
// ============================================================================

// startMaintenance 启动维护循环
//
// 四个任务各自独立按固定周期运行，任何一个失败只记录日志，不影响循环。
func (d *DHT) startMaintenance() {
	d.runLoop("refresh", d.config.RefreshInterval, func(ctx context.Context) {
		d.RefreshBuckets(ctx)
	})
	d.runLoop("liveness", d.config.LivenessInterval, func(ctx context.Context) {
		d.CheckLiveness(ctx)
	})
	d.runLoop("republish", d.config.RepublishInterval, func(ctx context.Context) {
		d.Republish(ctx)
	})
	d.runLoop("sweep", d.config.SweepInterval, func(context.Context) {
		d.SweepExpired()
	})
}

// runLoop 按周期运行任务直到 DHT 停止
func (d *DHT) runLoop(name string, interval time.Duration, task func(ctx context.Context)) {
	d.goTracked(func(ctx context.Context) {
		ticker := d.clock.Ticker(interval)
		defer ticker.Stop()

		logger.Debug("维护循环已启动", "task", name, "interval", interval)
		for {
			select {
			case <-ticker.C:
				task(ctx)
			case <-ctx.Done():
				logger.Debug("维护循环已停止", "task", name)
				return
			}
		}
	})
}

// ============================================================================
//                              维护任务
// ============================================================================

// RefreshBuckets 刷新长时间未查询的桶
//
// 对每个陈旧的桶，查找该桶距离区间内的一个随机 ID。返回刷新的桶数。
func (d *DHT) RefreshBuckets(ctx context.Context) int {
	stale := d.routingTable.BucketsNeedingRefresh(d.config.BucketStaleAfter)
	if len(stale) == 0 {
		return 0
	}

	var refreshed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.config.Alpha)
	for _, idx := range stale {
		g.Go(func() error {
			target := RandomIDInBucket(d.self.ID, idx)
			_, err := d.lookups.run(gctx, target, LookupNode)
			switch {
			case err == nil:
				refreshed.Add(1)
			case errors.Is(err, ErrNoPeersAvailable):
				// 路由表为空时其余的桶也无法刷新
				return err
			default:
				logger.Debug("桶刷新失败", "bucket", idx, "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Debug("桶刷新中止", "error", err)
	}

	n := int(refreshed.Load())
	logger.Debug("桶刷新完成", "stale", len(stale), "refreshed", n)
	return n
}

// CheckLiveness 探测长时间未见的节点，并驱逐已判死的节点
//
// 探测失败计入失败次数，连续失败达到阈值的节点被移除。返回驱逐的节点数。
func (d *DHT) CheckLiveness(ctx context.Context) int {
	stale := d.routingTable.StalePeers(d.config.PingStaleAfter)

	var g errgroup.Group
	g.SetLimit(d.config.Alpha)
	for _, p := range stale {
		g.Go(func() error {
			d.pingPeer(ctx, p.AddrInfo())
			return nil
		})
	}
	_ = g.Wait()

	removed := d.routingTable.RemoveDead()
	if len(removed) > 0 {
		d.metrics.evicted.Add(float64(len(removed)))
		logger.Info("驱逐失效节点", "count", len(removed), "probed", len(stale))
	}
	return len(removed)
}

// pingPeer 探测节点并更新活性
func (d *DHT) pingPeer(ctx context.Context, peer types.PeerAddr) bool {
	res := d.dispatcher.Ping(ctx, peer)
	if res.OK() {
		d.routingTable.MarkAlive(peer.ID, res.RTT)
		d.bad.success(peer.ID)
		return true
	}
	if ctx.Err() == nil {
		state := d.routingTable.MarkDead(peer.ID)
		d.bad.failure(peer.ID)
		logger.Debug("节点探测失败", "peer", peer.ID.ShortString(), "liveness", state, "error", res.Err)
	}
	return false
}

// Republish 重新发布即将过期的本地记录
//
// 每次重新发布都签发序列号 +1 的新版本，保证它在冲突解决中胜过之前的版本。
// 返回重新发布的记录数。
func (d *DHT) Republish(ctx context.Context) int {
	due := d.publisher.DueForRepublish(d.config.RepublishWindow)
	count := 0
	for _, key := range due {
		if ctx.Err() != nil {
			break
		}
		entry, err := d.publisher.Renew(key)
		if err != nil {
			logger.Warn("续签本地记录失败", "key", key.ShortString(), "error", err)
			continue
		}
		res, err := d.StoreEntry(ctx, entry)
		if err != nil {
			logger.Warn("重新发布失败", "key", key.ShortString(), "seq", entry.Seq, "error", err)
			continue
		}
		count++
		d.metrics.republished.Inc()
		logger.Debug("重新发布本地记录", "key", key.ShortString(), "seq", entry.Seq, "replicas", res.Replicas)
	}
	return count
}

// SweepExpired 清理过期值
func (d *DHT) SweepExpired() int {
	n := d.values.Sweep()
	if n > 0 {
		d.metrics.swept.Add(float64(n))
		logger.Debug("清理过期值", "count", n)
	}
	return n
}
