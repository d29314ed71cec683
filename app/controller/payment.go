package controller

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/novacart/ms-go-payments/app/auth"
	"github.com/novacart/ms-go-payments/app/factory"
	"github.com/novacart/ms-go-payments/app/mapper"
	"github.com/novacart/ms-go-payments/app/provider"
	"github.com/novacart/ms-go-payments/app/service"
	"github.com/novacart/ms-go-payments/app/types"
	"github.com/sirupsen/logrus"
)

const maxCallbackBodyBytes = 1 << 20

type PaymentController struct {
	orchestrator *service.Orchestrator
	logger       logrus.FieldLogger
}

func NewPaymentController(orchestrator *service.Orchestrator) *PaymentController {
	return &PaymentController{
		orchestrator: orchestrator,
		logger:       factory.NewModuleLogger("payments-controller"),
	}
}

func (c *PaymentController) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, &types.HealthResponse{Status: "ok"})
}

func (c *PaymentController) InitiatePayment(ctx echo.Context) error {
	actor, ok := auth.ActorFromContext(ctx)
	if !ok {
		return c.writeError(ctx, http.StatusUnauthorized, "authentication required")
	}

	req, err := types.NewInitiatePaymentRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.orchestrator.Initiate(ctx.Request().Context(), req, actor)
	if err != nil {
		var unsupported *provider.UnsupportedMethodError
		switch {
		case errors.As(err, &unsupported):
			return c.writeError(ctx, http.StatusBadRequest, unsupported.Error())
		case errors.Is(err, service.ErrInvalidRequest):
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrGatewayFailed):
			c.logger.WithError(err).Error("Initiate payment failed at gateway")
			return c.writeError(ctx, http.StatusBadGateway, "payment provider unavailable")
		default:
			c.logger.WithError(err).Error("Initiate payment failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusCreated, &types.PaymentEnvelopeResponse{Payment: mapper.PaymentToResponse(item)})
}

func (c *PaymentController) GetPayment(ctx echo.Context) error {
	actor, ok := auth.ActorFromContext(ctx)
	if !ok {
		return c.writeError(ctx, http.StatusUnauthorized, "authentication required")
	}

	req, err := types.NewPaymentIDRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}

	item, err := c.orchestrator.Get(ctx.Request().Context(), req.ID, actor)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPaymentNotFound):
			return c.writeError(ctx, http.StatusNotFound, "payment not found")
		case errors.Is(err, service.ErrForbidden):
			return c.writeError(ctx, http.StatusForbidden, "forbidden")
		default:
			c.logger.WithError(err).Error("Get payment failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusOK, &types.PaymentEnvelopeResponse{Payment: mapper.PaymentToResponse(item)})
}

func (c *PaymentController) VerifyPayment(ctx echo.Context) error {
	actor, ok := auth.ActorFromContext(ctx)
	if !ok {
		return c.writeError(ctx, http.StatusUnauthorized, "authentication required")
	}

	req, err := types.NewPaymentIDRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}

	item, err := c.orchestrator.Verify(ctx.Request().Context(), req.ID, actor)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPaymentNotFound):
			return c.writeError(ctx, http.StatusNotFound, "payment not found")
		case errors.Is(err, service.ErrForbidden):
			return c.writeError(ctx, http.StatusForbidden, "forbidden")
		case errors.Is(err, service.ErrGatewayFailed):
			c.logger.WithError(err).Error("Verify payment failed at gateway")
			return c.writeError(ctx, http.StatusBadGateway, "payment provider unavailable")
		default:
			c.logger.WithError(err).Error("Verify payment failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusOK, &types.PaymentEnvelopeResponse{Payment: mapper.PaymentToResponse(item)})
}

func (c *PaymentController) RefundPayment(ctx echo.Context) error {
	actor, ok := auth.ActorFromContext(ctx)
	if !ok {
		return c.writeError(ctx, http.StatusUnauthorized, "authentication required")
	}

	req, err := types.NewPaymentIDRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}

	item, err := c.orchestrator.Refund(ctx.Request().Context(), req.ID, actor)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPaymentNotFound):
			return c.writeError(ctx, http.StatusNotFound, "payment not found")
		case errors.Is(err, service.ErrForbidden):
			return c.writeError(ctx, http.StatusForbidden, "forbidden")
		case errors.Is(err, service.ErrInvalidStatus):
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrGatewayFailed):
			c.logger.WithError(err).Error("Refund payment failed at gateway")
			return c.writeError(ctx, http.StatusBadGateway, "payment provider unavailable")
		default:
			c.logger.WithError(err).Error("Refund payment failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusOK, &types.PaymentEnvelopeResponse{Payment: mapper.PaymentToResponse(item)})
}

// HandleProviderCallback is the public webhook endpoint. Denied requests get
// a bare 403 with no detail; everything past authentication is acknowledged
// with a positive ack body so the provider stops retrying.
func (c *PaymentController) HandleProviderCallback(ctx echo.Context) error {
	payload, err := io.ReadAll(io.LimitReader(ctx.Request().Body, maxCallbackBodyBytes))
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}

	ack, err := c.orchestrator.ProcessCallback(ctx.Request().Context(), ctx.Param("method"), ctx.Request(), payload)
	if err != nil {
		var unsupported *provider.UnsupportedMethodError
		switch {
		case errors.Is(err, service.ErrCallbackDenied):
			return c.writeError(ctx, http.StatusForbidden, "forbidden")
		case errors.As(err, &unsupported):
			return c.writeError(ctx, http.StatusBadRequest, unsupported.Error())
		default:
			c.logger.WithError(err).Error("Handle provider callback failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusOK, ack)
}

func (c *PaymentController) writeError(ctx echo.Context, statusCode int, message string) error {
	return ctx.JSON(statusCode, &types.ErrorResponse{Error: message})
}
