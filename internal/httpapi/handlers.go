// Package httpapi is the HTTP surface: public webhook ingress plus the
// JWT-protected operator endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"callsync/internal/backfill"
	"callsync/internal/crm"
	"callsync/internal/events"
	"callsync/internal/integration"
	"callsync/internal/provision"
	"callsync/internal/queue"
	"callsync/internal/reporting"
	"callsync/internal/signature"
	"callsync/internal/telephony"
	"callsync/pkg/logger"
	"callsync/pkg/utils"
)

// Signature headers of the two inbound webhook sources.
const (
	telephonySignatureHeader = "X-Telephony-Signature"
	crmSignatureHeader       = "X-CRM-Signature"
)

const entityLockTTL = 30 * time.Second

// maxWebhookBody bounds inbound payloads; deliveries are small JSON.
const maxWebhookBody = 1 << 20

type Handlers struct {
	cfgStore    integration.ConfigStore
	dispatcher  *events.Dispatcher
	provisioner *provision.Provisioner
	backfiller  *backfill.Engine
	reports     *reporting.Service
	messages    *integration.Messages

	crmSecret []byte

	// rdb serializes per-entity processing across processes; nil disables
	// locking (single-process deployments).
	rdb *redis.Client

	// q parks retryable failures for replay; nil disables the retry path.
	q queue.Client
}

func NewHandlers(
	cfgStore integration.ConfigStore,
	dispatcher *events.Dispatcher,
	provisioner *provision.Provisioner,
	backfiller *backfill.Engine,
	reports *reporting.Service,
	messages *integration.Messages,
	crmSecret string,
	rdb *redis.Client,
	q queue.Client,
) *Handlers {
	return &Handlers{
		cfgStore:    cfgStore,
		dispatcher:  dispatcher,
		provisioner: provisioner,
		backfiller:  backfiller,
		reports:     reports,
		messages:    messages,
		crmSecret:   []byte(crmSecret),
		rdb:         rdb,
		q:           q,
	}
}

func resultJSON(res events.Result) gin.H {
	out := gin.H{"logged": res.Logged, "skipped": res.Skipped}
	if res.Reason != "" {
		out["reason"] = res.Reason
	}
	if len(res.NoteIDs) > 0 {
		out["note_ids"] = res.NoteIDs
	}
	if len(res.Failures) > 0 {
		out["participant_failures"] = res.Failures
	}
	return out
}

// TelephonyWebhook ingests one telephony delivery. Verification happens
// before any processing; an unverifiable payload is rejected with 401 and
// never enqueued.
func (h *Handlers) TelephonyWebhook(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.From(ctx)

	workspaceID := c.Query("workspace_id")
	if workspaceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "workspace_id is required"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	var env telephony.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}

	cfg, err := h.cfgStore.Get(ctx, workspaceID)
	if errors.Is(err, integration.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "integration not configured"})
		return
	}
	if err != nil {
		log.Error("failed to load integration config", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	verifier := signature.NewVerifier(deliverySecrets(cfg), nil)
	matched, err := verifier.Verify(c.GetHeader(telephonySignatureHeader), body, env.Type)
	if err != nil {
		log.Warn("rejected telephony delivery", "type", env.Type, "error", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}
	log.Debug("telephony signature verified", "type", env.Type, "candidate", matched)

	if key, ok := entityLockKey(workspaceID, env); ok && h.rdb != nil {
		owner := uuid.NewString()
		acquired, err := utils.AcquireEntityLock(ctx, h.rdb, key, owner, entityLockTTL)
		if err != nil {
			log.Error("entity lock failed", "key", key, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if !acquired {
			// Another delivery for this entity is in flight; let the
			// sender retry rather than racing it.
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "entity busy, retry later"})
			return
		}
		defer func() {
			if err := utils.ReleaseEntityLock(context.WithoutCancel(ctx), h.rdb, key, owner); err != nil {
				log.Error("entity lock release failed", "key", key, "error", err)
			}
		}()
	}

	res, err := h.dispatcher.DispatchTelephony(ctx, cfg, env)
	if err != nil {
		h.parkOrFail(c, queue.Delivery{
			Source:      "telephony",
			WorkspaceID: workspaceID,
			EventType:   env.Type,
			Body:        body,
		}, err)
		return
	}
	c.JSON(http.StatusOK, resultJSON(res))
}

// CRMWebhook ingests one CRM delivery. Deliveries are batched; each event
// is dispatched independently so one bad event cannot block its siblings.
func (h *Handlers) CRMWebhook(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.From(ctx)

	workspaceID := c.Query("workspace_id")
	if workspaceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "workspace_id is required"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	if !signature.VerifySimple(body, c.GetHeader(crmSignatureHeader), h.crmSecret) {
		log.Warn("rejected crm delivery")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	var env crm.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}

	results := make([]gin.H, 0, len(env.Events))
	var retryable error
	for _, ev := range env.Events {
		res, err := h.dispatcher.DispatchCRM(ctx, workspaceID, ev)
		if err != nil {
			retryable = err
			log.Error("crm event failed", "type", ev.EventType, "record_id", ev.ID.RecordID, "error", err)
			results = append(results, gin.H{"logged": false, "error": "retryable failure"})
			continue
		}
		results = append(results, resultJSON(res))
	}

	if retryable != nil {
		h.parkOrFail(c, queue.Delivery{
			Source:      "crm",
			WorkspaceID: workspaceID,
			Body:        body,
		}, retryable)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// parkOrFail routes a retryable failure to the queue when one is
// configured, otherwise surfaces a 500 so the sender redelivers.
func (h *Handlers) parkOrFail(c *gin.Context, d queue.Delivery, cause error) {
	ctx := c.Request.Context()
	log := logger.From(ctx)

	if h.q == nil {
		log.Error("delivery failed with no retry queue", "source", d.Source, "error", cause)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}
	if err := h.q.Publish(ctx, d); err != nil {
		log.Error("failed to park delivery", "source", d.Source, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}
	log.Warn("delivery parked for retry", "source", d.Source, "type", d.EventType, "error", cause)
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

// Replay processes one parked delivery from the retry queue. The payload
// was verified at ingress; verification is not repeated.
func (h *Handlers) Replay(ctx context.Context, d queue.Delivery) error {
	switch d.Source {
	case "telephony":
		cfg, err := h.cfgStore.Get(ctx, d.WorkspaceID)
		if err != nil {
			return err
		}
		var env telephony.Envelope
		if err := json.Unmarshal(d.Body, &env); err != nil {
			return err
		}
		_, err = h.dispatcher.DispatchTelephony(ctx, cfg, env)
		return err

	case "crm":
		var env crm.Envelope
		if err := json.Unmarshal(d.Body, &env); err != nil {
			return err
		}
		for _, ev := range env.Events {
			if _, err := h.dispatcher.DispatchCRM(ctx, d.WorkspaceID, ev); err != nil {
				return err
			}
		}
		return nil

	default:
		logger.From(ctx).Warn("dropping parked delivery with unknown source", "source", d.Source)
		return nil
	}
}

// deliverySecrets assembles the per-category verifier secrets from the
// recorded subscriptions. Missing subscriptions leave their secret empty
// and the verifier fails closed for that category.
func deliverySecrets(cfg integration.Config) signature.Secrets {
	var s signature.Secrets
	if cfg.CallSubscription != nil {
		s.Call = cfg.CallSubscription.Secret
	}
	if cfg.CallSummarySubscription != nil {
		s.Summary = cfg.CallSummarySubscription.Secret
	}
	if cfg.MessageSubscription != nil {
		s.Message = cfg.MessageSubscription.Secret
	}
	return s
}

// entityLockKey derives the per-entity lock key for a delivery, or false
// when the payload carries no usable entity id.
func entityLockKey(workspaceID string, env telephony.Envelope) (string, bool) {
	var id string
	switch events.ParseKind(env.Type) {
	case events.KindCallCompleted:
		var obj telephony.CallObject
		if json.Unmarshal(env.Data.Object, &obj) == nil {
			id = obj.ID
		}
	case events.KindCallSummaryCompleted:
		var sum telephony.SummaryObject
		if json.Unmarshal(env.Data.Object, &sum) == nil {
			id = sum.CallID
		}
	case events.KindMessageReceived, events.KindMessageSent:
		var msg telephony.Message
		if json.Unmarshal(env.Data.Object, &msg) == nil {
			id = msg.ID
		}
	}
	if id == "" {
		return "", false
	}
	return "lock:" + workspaceID + ":" + id, true
}
