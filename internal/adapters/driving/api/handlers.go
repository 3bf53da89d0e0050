package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driving"
	"github.com/custodia-labs/ledgersync/internal/logger"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type connectRequest struct {
	RedirectURI string `json:"redirect_uri"`
}

type deleteManyRequest struct {
	IDs []string `json:"ids"`
}

// streamEvent is one NDJSON line of a bulk delete.
type streamEvent struct {
	Type     string                      `json:"type"`
	Progress *domain.DeleteBatchProgress `json:"progress,omitempty"`
	Records  []domain.Record             `json:"records,omitempty"`
}

// --- connection ---

func (s *Server) connect(c *fiber.Ctx) error {
	var req connectRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fail(c, invalid("request body is not valid JSON"))
		}
	}

	authURL, err := s.svc.Connections.Connect(c.UserContext(), userID(c), req.RedirectURI)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "auth_url": authURL})
}

func (s *Server) callback(c *fiber.Ctx) error {
	var result driving.Result
	if denied := c.Query("error"); denied != "" {
		msg := c.Query("error_description", denied)
		result = driving.FailureResult(domain.NewSyncError(domain.ErrExchangeFailed, msg, nil))
	} else {
		result = s.svc.Connections.CompleteConnection(c.UserContext(),
			c.Query("code"), c.Query("state"), c.Query("realmId"))
	}

	if s.cfg.CallbackRedirect != "" {
		q := url.Values{}
		if result.Success {
			q.Set("connected", "true")
		} else {
			q.Set("error", result.Error)
			q.Set("kind", string(result.Kind))
		}
		return c.Redirect(s.cfg.CallbackRedirect+"?"+q.Encode(), fiber.StatusFound)
	}
	return sendResult(c, result)
}

func (s *Server) status(c *fiber.Ctx) error {
	st := s.svc.Connections.GetStatus(c.UserContext(), userID(c))
	return c.JSON(fiber.Map{
		"success":      true,
		"connected":    st.Connected,
		"status":       st.Status,
		"company_name": st.CompanyName,
		"error":        st.Error,
	})
}

// statusStream sends the current verdict, then every change, as server-sent
// events. It ends when the client goes away or the stream timeout passes.
func (s *Server) statusStream(c *fiber.Ctx) error {
	uid := userID(c)
	updates, cancel := s.svc.Connections.Subscribe(uid)
	initial := s.svc.Connections.GetStatus(c.UserContext(), uid)

	timeout := s.cfg.StatusStreamTimeout
	if timeout <= 0 {
		timeout = defaultStatusStreamTimeout
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		if err := writeStatus(w, initial); err != nil {
			return
		}

		deadline := time.NewTimer(timeout)
		defer deadline.Stop()
		heartbeat := time.NewTicker(statusHeartbeat)
		defer heartbeat.Stop()

		for {
			var err error
			select {
			case snap, ok := <-updates:
				if !ok {
					return
				}
				err = writeStatus(w, driving.StatusResult{
					Connected:   snap.Connected(),
					Status:      snap.Status,
					CompanyName: snap.CompanyName,
					Error:       snap.Error,
				})
			case <-heartbeat.C:
				if _, err = w.WriteString(": ping\n\n"); err == nil {
					err = w.Flush()
				}
			case <-deadline.C:
				return
			}
			if err != nil {
				logger.Debug("api: status stream for %s: client gone: %v", uid, err)
				return
			}
		}
	})
	return nil
}

func writeStatus(w *bufio.Writer, st driving.StatusResult) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: status\ndata: %s\n\n", data); err != nil {
		return err
	}
	return w.Flush()
}

func (s *Server) disconnect(c *fiber.Ctx) error {
	return sendResult(c, s.svc.Connections.Disconnect(c.UserContext(), userID(c)))
}

func sendResult(c *fiber.Ctx, r driving.Result) error {
	code := fiber.StatusOK
	if !r.Success {
		code = statusForKind(r.Kind, r.Reconnect)
	}
	return c.Status(code).JSON(r)
}

// --- entities ---

func (s *Server) listEntityTypes(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"success": true, "entity_types": s.svc.Entities.ListEntityTypes()})
}

func (s *Server) fetchRecords(c *fiber.Ctx) error {
	filter := c.Queries()
	records, err := s.svc.Entities.FetchRecords(c.UserContext(), userID(c), c.Params("type"), filter)
	if err != nil {
		return fail(c, err)
	}
	if records == nil {
		records = []domain.Record{}
	}
	return c.JSON(fiber.Map{"success": true, "records": records, "count": len(records)})
}

func (s *Server) createRecord(c *fiber.Ctx) error {
	var payload domain.Record
	if err := json.Unmarshal(c.Body(), &payload); err != nil {
		return fail(c, invalid("request body must be a JSON object"))
	}

	rec, err := s.svc.Entities.CreateRecord(c.UserContext(), userID(c), c.Params("type"), payload)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "record": rec})
}

// updateRecord takes the sync token from the body's SyncToken field.
func (s *Server) updateRecord(c *fiber.Ctx) error {
	var payload domain.Record
	if err := json.Unmarshal(c.Body(), &payload); err != nil {
		return fail(c, invalid("request body must be a JSON object"))
	}

	rec, err := s.svc.Entities.UpdateRecord(c.UserContext(), userID(c),
		c.Params("type"), c.Params("id"), payload, payload.SyncToken())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "record": rec})
}

func (s *Server) deleteRecord(c *fiber.Ctx) error {
	rec, err := s.svc.Entities.DeleteRecord(c.UserContext(), userID(c), c.Params("type"), c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "record": rec})
}

// deleteMany streams one NDJSON progress line per item, then a complete
// line carrying the re-fetched records. The batch runs to completion even if
// the client goes away.
func (s *Server) deleteMany(c *fiber.Ctx) error {
	var req deleteManyRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, invalid("request body must be {\"ids\": [...]}"))
	}

	ctx := context.WithoutCancel(c.UserContext())
	batch, err := s.svc.Entities.DeleteMany(ctx, userID(c), c.Params("type"), req.IDs)
	if err != nil {
		return fail(c, err)
	}

	c.Set(fiber.HeaderContentType, "application/x-ndjson")
	c.Set("X-Batch-Id", batch.ID())
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		enc := json.NewEncoder(w)
		for p := range batch.Updates() {
			ev := streamEvent{Type: "progress", Progress: &p}
			if p.Done() {
				ev.Type = "complete"
				ev.Records = batch.Records()
			}
			if err := writeEvent(w, enc, ev); err != nil {
				logger.Debug("api: delete stream %s: client gone: %v", batch.ID(), err)
			}
		}
	})
	return nil
}

func writeEvent(w *bufio.Writer, enc *json.Encoder, ev streamEvent) error {
	if err := enc.Encode(ev); err != nil {
		return err
	}
	return w.Flush()
}

// --- transfer ---

func (s *Server) export(c *fiber.Ctx) error {
	entityType := c.Params("type")

	var buf bytes.Buffer
	n, err := s.svc.Transfer.Export(c.UserContext(), userID(c), entityType, &buf)
	if err != nil {
		return fail(c, err)
	}

	c.Attachment(entityType + ".xlsx")
	c.Set(fiber.HeaderContentType, xlsxContentType)
	c.Set("X-Record-Count", strconv.Itoa(n))
	return c.Send(buf.Bytes())
}

func (s *Server) importRecords(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return fail(c, invalid("file is required"))
	}
	f, err := fh.Open()
	if err != nil {
		return fail(c, invalid("uploaded file could not be read"))
	}
	defer f.Close()

	summary, err := s.svc.Transfer.Import(c.UserContext(), userID(c), c.Params("type"), f)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"success": summary.Status != domain.OpStatusError,
		"summary": summary,
	})
}

// --- audit ---

func (s *Server) logs(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 0)
	entries, err := s.svc.Audit.Recent(c.UserContext(), userID(c), limit)
	if err != nil {
		return fail(c, err)
	}
	if entries == nil {
		entries = []domain.OperationLogEntry{}
	}
	return c.JSON(fiber.Map{"success": true, "entries": entries})
}
