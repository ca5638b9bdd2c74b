package main

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"towerdefense.ai/internal/persistence/objstore"
)

// openMirror builds the optional off-box mirror. A nil mirror is valid and
// ignores every Enqueue.
func openMirror(dataDir string, logger *log.Logger) (*objstore.Mirror, error) {
	if !envBool("TD_MIRROR", false) {
		return nil, nil
	}
	cfg := objstore.Config{
		Endpoint:        strings.TrimSpace(os.Getenv("TD_MIRROR_ENDPOINT")),
		Bucket:          strings.TrimSpace(os.Getenv("TD_MIRROR_BUCKET")),
		Region:          strings.TrimSpace(os.Getenv("TD_MIRROR_REGION")),
		AccessKeyID:     strings.TrimSpace(os.Getenv("TD_MIRROR_ACCESS_KEY_ID")),
		SecretAccessKey: strings.TrimSpace(os.Getenv("TD_MIRROR_SECRET_ACCESS_KEY")),
	}
	if cfg.Endpoint == "" || cfg.Bucket == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("TD_MIRROR=true but TD_MIRROR_ENDPOINT/TD_MIRROR_BUCKET/TD_MIRROR_ACCESS_KEY_ID/TD_MIRROR_SECRET_ACCESS_KEY are not fully set")
	}
	client, err := objstore.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return objstore.NewMirror(client, objstore.MirrorConfig{
		DataDir:     dataDir,
		Prefix:      envString("TD_MIRROR_PREFIX", ""),
		Workers:     envInt("TD_MIRROR_UPLOAD_WORKERS", 2),
		Queue:       envInt("TD_MIRROR_QUEUE", 256),
		EnqueueWait: time.Duration(envInt("TD_MIRROR_ENQUEUE_WAIT_MS", 25)) * time.Millisecond,
		Logger:      logger,
	}), nil
}
