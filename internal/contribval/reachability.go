package contribval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"net/http"
	"time"
)

// ReachabilityChecker reports the status code a URL answers with. Successful
// and client-error answers are cached briefly to shield upstream hosts;
// connection failures and 5xx answers are retried on every call.
type ReachabilityChecker struct {
	store   Store
	ttl     time.Duration
	fetch   *fetcher
	metrics *metrics
	failLog *rateLimitedLogger
}

func NewReachabilityChecker(store Store, ttl time.Duration, f *fetcher, m *metrics, failLog *rateLimitedLogger) *ReachabilityChecker {
	return &ReachabilityChecker{store: store, ttl: ttl, fetch: f, metrics: m, failLog: failLog}
}

// Check never fails: a connection error becomes status 500.
func (c *ReachabilityChecker) Check(ctx context.Context, url string) ReachabilityResult {
	key := reachabilityKey(url)

	var cached ReachabilityResult
	ok, err := getJSON(ctx, c.store, key, &cached)
	if err != nil {
		log.Printf("reachability cache read: %v", err)
	}
	if ok {
		c.metrics.observeCache("reachability", true)
		return cached
	}
	c.metrics.observeCache("reachability", false)

	res := ReachabilityResult{URL: url}
	code, err := c.fetch.status(ctx, "reachability", url)
	if err != nil {
		c.failLog.Printf("reachability %s: %v", url, err)
		code = http.StatusInternalServerError
	}
	res.StatusCode = code

	if cacheableStatus(code) {
		if err := setJSON(ctx, c.store, key, res, c.ttl); err != nil {
			log.Printf("reachability cache write: %v", err)
		}
	}
	return res
}

func cacheableStatus(code int) bool {
	return code >= http.StatusOK && code < http.StatusInternalServerError
}

// reachabilityKey hashes the URL so arbitrary input stays a valid memcached
// key and cannot collide with the other cache keys.
func reachabilityKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return reachabilityKeyPrefix + hex.EncodeToString(sum[:])
}
