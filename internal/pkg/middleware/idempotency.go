package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/tiktel/ttelgo/internal/pkg/idempotency"
)

// HeaderIdempotencyKey is the client-supplied token header.
const HeaderIdempotencyKey = "Idempotency-Key"

// IdempotencyMiddleware applies the idempotency gateway to write requests
// that carry an Idempotency-Key header. Replays return the cached response
// verbatim; a fresh claim runs the handler and settles the record with the
// response it produced.
func IdempotencyMiddleware(svc *idempotency.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Get(HeaderIdempotencyKey)
		if key == "" || !isWriteMethod(c.Method()) {
			return c.Next()
		}

		outcome, err := svc.Begin(key, c.Method(), c.Path(), ActorFromContext(c), c.Body())
		if err != nil {
			switch {
			case errors.Is(err, idempotency.ErrInProgress):
				return c.Status(fiber.StatusConflict).JSON(fiber.Map{
					"error":   "conflict_in_progress",
					"message": "A request with this idempotency key is still being processed",
				})
			case errors.Is(err, idempotency.ErrPayloadMismatch):
				return c.Status(fiber.StatusConflict).JSON(fiber.Map{
					"error":   "conflict_payload_mismatch",
					"message": "This idempotency key was already used with a different request body",
				})
			default:
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
			}
		}

		if outcome.Replay {
			c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			return c.Status(outcome.ResponseStatus).SendString(outcome.ResponseBody)
		}

		if err := c.Next(); err != nil {
			// The handler never produced a response; drop the claim so the
			// client's retry starts fresh.
			if relErr := svc.Release(outcome.RecordID); relErr != nil {
				log.Errorf("idempotency release for record %d failed: %v", outcome.RecordID, relErr)
			}
			return err
		}

		status := c.Response().StatusCode()
		body := string(c.Response().Body())
		var settleErr error
		if status < 400 {
			settleErr = svc.Complete(outcome.RecordID, status, body)
		} else {
			settleErr = svc.Fail(outcome.RecordID, status, body)
		}
		if settleErr != nil {
			log.Errorf("idempotency settle for record %d failed: %v", outcome.RecordID, settleErr)
		}
		return nil
	}
}

func isWriteMethod(method string) bool {
	switch method {
	case fiber.MethodPost, fiber.MethodPut, fiber.MethodPatch, fiber.MethodDelete:
		return true
	default:
		return false
	}
}
