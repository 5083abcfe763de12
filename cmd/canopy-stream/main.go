// Command canopy-stream is the Lambda function attached to the node table's
// DynamoDB stream. It propagates soft deletes from a node to its subtree.
package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"

	"github.com/jacentio/canopy/internal/config"
	"github.com/jacentio/canopy/store"
	"github.com/jacentio/canopy/stream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	awsCfg, err := cfg.LoadAWSConfig(context.Background())
	if err != nil {
		logger.Fatal("load AWS config", zap.Error(err))
	}

	s := store.New(dynamodb.NewFromConfig(awsCfg), cfg.StoreConfig())
	h := stream.NewHandler(s, logger.Named("stream"))

	logger.Info("starting stream handler",
		zap.String("pathIndex", cfg.PathIndex),
		zap.Int("numShards", cfg.NumShards),
	)
	lambda.Start(h.HandleCascadeDelete)
}
