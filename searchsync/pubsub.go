package searchsync

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/pubsub"
	"github.com/commercekit/searchsync/config"
	"github.com/commercekit/searchsync/models"
	"github.com/commercekit/searchsync/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// PublishSyncRequest hands a queued run to the push topic. A subscriber
// behind the push endpoint executes it; see PubSubPushHandler.
func PublishSyncRequest(ctx context.Context, logger *logrus.Logger, runId uint, entityType string) error {
	topicName := strings.TrimSpace(os.Getenv("SEARCH_SYNC_TOPIC"))
	if topicName == "" {
		topicName = "search-sync"
	}

	client, err := config.GetPubSubClient(ctx)
	if err != nil {
		return err
	}

	topic := client.Topic(topicName)
	if envBoolDefault("SEARCH_SYNC_CREATE_TOPIC", false) {
		topic, err = config.CreateTopicIfNotExists(client, topicName)
		if err != nil {
			return err
		}
	}

	payload := SyncRequestPayload{
		RunId:      runId,
		EntityType: entityType,
	}
	data, _ := json.Marshal(payload)
	res := topic.Publish(ctx, &pubsub.Message{Data: data})
	if _, err = res.Get(ctx); err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"module":     "searchsync",
		"runId":      runId,
		"entityType": entityType,
		"topic":      topicName,
	}).Info("sync request published")
	return nil
}

// PubSubPushHandler accepts push deliveries for the sync topic. Malformed
// deliveries are acked with 204 so the subscription does not redeliver junk
// forever; ProcessRun's queued-state check absorbs genuine redeliveries.
func PubSubPushHandler(svc *SyncService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !envBoolDefault("ENABLE_SEARCH_SYNC_PUSH_ENDPOINT", true) {
			c.Status(204)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(204)
			return
		}

		var envelope PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			c.Status(204)
			return
		}

		var payload SyncRequestPayload
		if err := json.Unmarshal(envelope.Message.Data, &payload); err != nil {
			c.Status(204)
			return
		}
		if payload.RunId == 0 || payload.EntityType == "" {
			c.Status(204)
			return
		}

		ctx := utils.SetTriggeredByInContext(c.Request.Context(), models.SyncTriggeredPubSub)
		if err := svc.ProcessRun(ctx, payload.RunId); err != nil {
			config.LogError(svc.logger, "searchsync", "PubSubPushHandler", "process run", payload.RunId, err)
		}
		c.Status(204)
	}
}

func envBoolDefault(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}
