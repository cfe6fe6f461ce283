package geoip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/2beens/pressauth/internal/telemetry/tracing"

	"github.com/coocood/freecache"
	"github.com/go-redis/redis/v8"
	"github.com/ipinfo/go/v2/ipinfo"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	oneDay = 60 * 60 * 24

	localCacheExpire = oneDay // seconds
	redisCacheTTL    = 30 * 24 * time.Hour
)

var (
	ErrInvalidIP = errors.New("invalid ip address")
	ErrBogonIP   = errors.New("bogon ip address")

	devGeoIpInfo = IpInfo{
		IP:      "127.0.0.1",
		City:    "Berlin",
		Region:  "Berlin",
		Country: "DE",
	}
)

type IpInfo struct {
	IP       string `json:"ip"`
	City     string `json:"city"`
	Region   string `json:"region"`
	Country  string `json:"country"`
	Org      string `json:"org"`
	Timezone string `json:"timezone"`
}

// Location formats the info as "City, Region, Country", skipping empty parts.
func (i IpInfo) Location() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{i.City, i.Region, i.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

type ipInfoClient interface {
	GetIPInfo(ip net.IP) (*ipinfo.Core, error)
}

// Api resolves client IPs to a coarse location, through ipinfo.io.
// Results are cached in memory first, and in redis second.
type Api struct {
	client      ipInfoClient
	redisClient *redis.Client
	cache       *freecache.Cache
}

func NewApi(
	ipInfoToken string,
	httpClient *http.Client,
	redisClient *redis.Client,
) *Api {
	return newApi(ipinfo.NewClient(httpClient, nil, ipInfoToken), redisClient)
}

func newApi(client ipInfoClient, redisClient *redis.Client) *Api {
	megabyte := 1024 * 1024
	return &Api{
		client:      client,
		redisClient: redisClient,
		cache:       freecache.NewCache(5 * megabyte),
	}
}

// Locate returns the human readable location of the given ip.
func (gi *Api) Locate(ctx context.Context, ip string) (string, error) {
	info, err := gi.GetIPGeoInfo(ctx, ip)
	if err != nil {
		return "", err
	}
	location := info.Location()
	if location == "" {
		return "", fmt.Errorf("no location data for %s", ip)
	}
	return location, nil
}

func (gi *Api) GetIPGeoInfo(ctx context.Context, ip string) (_ *IpInfo, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "geoIp.getIPGeoInfo")
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()
	span.SetAttributes(attribute.String("user.ip", ip))

	// used for development
	if ip == "localhost" {
		log.Debugf("ip geo info: returning development localhost / Berlin")
		info := devGeoIpInfo
		return &info, nil
	}

	parsedIP := net.ParseIP(ip)
	if parsedIP == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIP, ip)
	}

	cacheKey := fmt.Sprintf("ip-info::%s", ip)
	if infoBytes, err := gi.cache.Get([]byte(cacheKey)); err == nil {
		info := &IpInfo{}
		if err := json.Unmarshal(infoBytes, info); err == nil {
			span.SetAttributes(attribute.String("user.ip.cache", "local"))
			return info, nil
		}
		log.Errorf("failed to unmarshal locally cached ip info for %s: %s", ip, err)
	}

	if info, found := gi.fromRedis(ctx, cacheKey); found {
		span.SetAttributes(attribute.String("user.ip.cache", "redis"))
		gi.cacheLocally(cacheKey, info)
		return info, nil
	}

	span.SetAttributes(attribute.String("user.ip.cache", "none"))
	log.Debugf("will ask ipinfo API for ip info: %s", ip)

	core, err := gi.lookup(ctx, parsedIP)
	if err != nil {
		return nil, err
	}
	if core.Bogon {
		return nil, fmt.Errorf("%w: %s", ErrBogonIP, ip)
	}

	info := &IpInfo{
		IP:       ip,
		City:     core.City,
		Region:   core.Region,
		Country:  core.Country,
		Org:      core.Org,
		Timezone: core.Timezone,
	}

	infoBytes := gi.cacheLocally(cacheKey, info)
	if infoBytes != nil && gi.redisClient != nil {
		if err := gi.redisClient.Set(ctx, cacheKey, string(infoBytes), redisCacheTTL).Err(); err != nil {
			log.Errorf("failed to cache ip info in redis for %s: %s", ip, err)
		} else {
			log.Debugf("ip info cache set in redis for: %s", ip)
		}
	}

	return info, nil
}

// lookup calls ipinfo in the background, so the caller is not held longer than its context allows.
func (gi *Api) lookup(ctx context.Context, ip net.IP) (*ipinfo.Core, error) {
	type result struct {
		core *ipinfo.Core
		err  error
	}

	resCh := make(chan result, 1)
	go func() {
		core, err := gi.client.GetIPInfo(ip)
		resCh <- result{core: core, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("ipinfo lookup: %w", ctx.Err())
	case res := <-resCh:
		if res.err != nil {
			return nil, fmt.Errorf("ipinfo lookup: %w", res.err)
		}
		if res.core == nil {
			return nil, errors.New("ipinfo lookup: empty response")
		}
		return res.core, nil
	}
}

func (gi *Api) fromRedis(ctx context.Context, cacheKey string) (*IpInfo, bool) {
	if gi.redisClient == nil {
		return nil, false
	}

	cached, err := gi.redisClient.Get(ctx, cacheKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Errorf("failed to find ip info in redis for [%s]: %s", cacheKey, err)
		}
		return nil, false
	}

	info := &IpInfo{}
	if err := json.Unmarshal([]byte(cached), info); err != nil {
		log.Errorf("failed to unmarshal cached ip info from redis for %s: %s", cacheKey, err)
		return nil, false
	}

	return info, true
}

func (gi *Api) cacheLocally(cacheKey string, info *IpInfo) []byte {
	infoBytes, err := json.Marshal(info)
	if err != nil {
		log.Errorf("failed to marshal ip info for %s: %s", cacheKey, err)
		return nil
	}
	if err := gi.cache.Set([]byte(cacheKey), infoBytes, localCacheExpire); err != nil {
		log.Errorf("failed to write ip info cache for %s: %s", cacheKey, err)
	}
	return infoBytes
}
