package main

import (
	"context"
	"os"

	"github.com/redis/rueidis"
	"go.uber.org/zap"

	"github.com/vnykmshr/distbucket/pkg/store"
	"github.com/vnykmshr/distbucket/pkg/store/badgerstore"
	"github.com/vnykmshr/distbucket/pkg/store/gcsstore"
	"github.com/vnykmshr/distbucket/pkg/store/redisstore"
	"github.com/vnykmshr/distbucket/pkg/store/rueidisstore"
)

// openStore connects to the configured backend. The returned function
// releases it.
func openStore(ctx context.Context, log *zap.Logger, config *Config) (store.Client, func() error, error) {
	switch config.Backend {
	case "rueidis":
		s, err := rueidisstore.Dial(rueidis.ClientOption{InitAddress: config.Addr})
		if err != nil {
			return nil, nil, err
		}
		return s, func() error { s.Close(); return nil }, nil

	case "badger":
		s, err := badgerstore.Open(log.Named("badger"), badgerstore.Config{Path: config.BadgerPath})
		if err != nil {
			return nil, nil, err
		}
		return s, func() error {
			if err := s.CollectGarbage(context.Background()); err != nil {
				log.Warn("value log GC failed", zap.Error(err))
			}
			return s.Close()
		}, nil

	case "gcs":
		key, err := os.ReadFile(config.GCSKeyFile)
		if err != nil {
			return nil, nil, err
		}
		s, err := gcsstore.New(ctx, gcsstore.Options{Bucket: config.GCSBucket, Prefix: "bucketbench/", JSONKey: key})
		if err != nil {
			return nil, nil, err
		}
		return s, func() error { return nil }, nil

	default:
		s, err := redisstore.Dial(ctx, redisstore.Options{Addrs: config.Addr})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
}
