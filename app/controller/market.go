package controller

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-shiftstream/app/factory"
	"github.com/vibast-solutions/ms-go-shiftstream/app/mapper"
	"github.com/vibast-solutions/ms-go-shiftstream/app/service"
	"github.com/vibast-solutions/ms-go-shiftstream/app/types"
)

// MarketController serves the pass-through lookups against the swap provider
// and the settlement wallet.
type MarketController struct {
	settlementService *service.SettlementService
	logger            logrus.FieldLogger
}

func NewMarketController(settlementService *service.SettlementService) *MarketController {
	return &MarketController{
		settlementService: settlementService,
		logger:            factory.NewModuleLogger("market-controller"),
	}
}

func (c *MarketController) GetPair(ctx echo.Context) error {
	req, err := types.NewGetPairRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	pair, err := c.settlementService.GetPair(ctx.Request().Context(), req.GetCoin(), req.GetNetwork())
	if err != nil {
		return writeServiceError(ctx, factory.LoggerWithContext(c.logger, ctx), err, "Get pair")
	}

	return ctx.JSON(http.StatusOK, mapper.PairToProto(pair))
}

func (c *MarketController) CreateAccount(ctx echo.Context) error {
	req, err := types.NewCreateAccountRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	account, err := c.settlementService.CreateAccount(ctx.Request().Context(), req.GetOwner())
	if err != nil {
		return writeServiceError(ctx, factory.LoggerWithContext(c.logger, ctx), err, "Create account")
	}

	return ctx.JSON(http.StatusCreated, mapper.AccountToProto(account))
}

func (c *MarketController) GetBalance(ctx echo.Context) error {
	req, err := types.NewGetBalanceRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	balance, err := c.settlementService.GetBalance(ctx.Request().Context(), req.GetAddress())
	if err != nil {
		return writeServiceError(ctx, factory.LoggerWithContext(c.logger, ctx), err, "Get balance")
	}

	return ctx.JSON(http.StatusOK, &types.BalanceResponse{Address: req.GetAddress(), Balance: balance.String()})
}
