package http

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"tronex.com/internal/deposit/domain"
	"tronex.com/internal/deposit/service"
	"tronex.com/pkg/common"
	"tronex.com/pkg/logger"
	"tronex.com/pkg/xerr"
)

const (
	defaultPage  = 1
	defaultLimit = 20
)

type AddressAPI interface {
	GetOrCreateAddress(ctx context.Context, userID string) (*domain.UserAddress, error)
	GetAddress(ctx context.Context, userID string) (*domain.UserAddress, error)
	ListAddresses(ctx context.Context, page, limit int) ([]*domain.UserAddress, int64, error)
}

type DepositAPI interface {
	CreateDeposit(ctx context.Context, in service.CreateDepositInput) (*domain.DepositRecord, error)
	GetDeposit(ctx context.Context, id int64) (*domain.DepositRecord, error)
	ListDeposits(ctx context.Context, f domain.DepositFilter, page, limit int) ([]*domain.DepositRecord, int64, error)
	GetBalance(ctx context.Context, userID, symbol string) (*domain.UserBalance, error)
	ManualConfirm(ctx context.Context, id int64, operator, txHash string, amount *decimal.Decimal) (*domain.DepositRecord, error)
	Reject(ctx context.Context, id int64, operator, reason string) (*domain.DepositRecord, error)
}

type CheckpointReader interface {
	Snapshot(ctx context.Context) (*domain.ScanCheckpoint, error)
}

type Handler struct {
	addresses  AddressAPI
	deposits   DepositAPI
	checkpoint CheckpointReader
}

func NewHandler(addresses AddressAPI, deposits DepositAPI, checkpoint CheckpointReader) *Handler {
	return &Handler{addresses: addresses, deposits: deposits, checkpoint: checkpoint}
}

func badRequest(msg string) error { return xerr.New(xerr.RequestParamsError, msg) }

// StartDeposit 返回用户的充值地址和二维码，重复调用地址不变
func (h *Handler) StartDeposit(c *gin.Context) {
	var req startDepositReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.FailErr(c, badRequest("请求参数错误"))
		return
	}
	ctx := c.Request.Context()
	a, err := h.addresses.GetOrCreateAddress(ctx, strings.TrimSpace(req.UserID))
	if err != nil {
		common.FailErr(c, err)
		return
	}
	qr, err := qrDataURL(a.Address)
	if err != nil {
		// 二维码失败不影响地址本身
		logger.Warn(ctx, "encode qrcode failed", zap.String("user_id", a.UserID), zap.Error(err))
	}
	common.Success(c, startDepositResp{UserID: a.UserID, Address: a.Address, QRCode: qr})
}

func (h *Handler) CreateDeposit(c *gin.Context) {
	var req createDepositReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.FailErr(c, badRequest("请求参数错误"))
		return
	}
	d, err := h.deposits.CreateDeposit(c.Request.Context(), service.CreateDepositInput{
		UserID: strings.TrimSpace(req.UserID),
		Amount: req.Amount,
		TxHash: req.TxHash,
		Symbol: req.Symbol,
	})
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.Success(c, toDepositView(d))
}

func (h *Handler) ListUserDeposits(c *gin.Context) {
	if c.Query("userId") == "" {
		common.FailErr(c, badRequest("userId 不能为空"))
		return
	}
	h.listDeposits(c)
}

func (h *Handler) AdminListDeposits(c *gin.Context) {
	h.listDeposits(c)
}

func (h *Handler) listDeposits(c *gin.Context) {
	f := domain.DepositFilter{UserID: c.Query("userId")}
	if s := c.Query("status"); s != "" {
		switch st := domain.DepositStatus(strings.ToLower(s)); st {
		case domain.DepositPending, domain.DepositConfirmed, domain.DepositFailed:
			f.Status = st
		default:
			common.FailErr(c, badRequest("status 不合法"))
			return
		}
	}
	page, limit, err := pageParams(c)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	list, total, err := h.deposits.ListDeposits(c.Request.Context(), f, page, limit)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.Success(c, pageResp[depositView]{List: toDepositViews(list), Total: total, Page: page, Limit: limit})
}

func (h *Handler) GetBalance(c *gin.Context) {
	b, err := h.deposits.GetBalance(c.Request.Context(), c.Param("userId"), c.Query("symbol"))
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.Success(c, balanceView{
		UserID:    b.UserID,
		Symbol:    b.Symbol,
		Available: b.Available.String(),
		Frozen:    b.Frozen.String(),
	})
}

func (h *Handler) AdminGetDeposit(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	d, err := h.deposits.GetDeposit(c.Request.Context(), id)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.Success(c, toDepositView(d))
}

func (h *Handler) AdminConfirm(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	var req confirmReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.FailErr(c, badRequest("请求参数错误"))
		return
	}
	d, err := h.deposits.ManualConfirm(c.Request.Context(), id, strings.TrimSpace(req.Operator), strings.TrimSpace(req.TxHash), req.Amount)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.Success(c, toDepositView(d))
}

func (h *Handler) AdminReject(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	var req rejectReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.FailErr(c, badRequest("请求参数错误"))
		return
	}
	d, err := h.deposits.Reject(c.Request.Context(), id, strings.TrimSpace(req.Operator), req.Reason)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.Success(c, toDepositView(d))
}

func (h *Handler) AdminListAddresses(c *gin.Context) {
	page, limit, err := pageParams(c)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	list, total, err := h.addresses.ListAddresses(c.Request.Context(), page, limit)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	views := make([]addressView, 0, len(list))
	for _, a := range list {
		views = append(views, toAddressView(a))
	}
	common.Success(c, pageResp[addressView]{List: views, Total: total, Page: page, Limit: limit})
}

func (h *Handler) AdminGetAddress(c *gin.Context) {
	a, err := h.addresses.GetAddress(c.Request.Context(), c.Param("userId"))
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.Success(c, toAddressView(a))
}

func (h *Handler) AdminCheckpoint(c *gin.Context) {
	cp, err := h.checkpoint.Snapshot(c.Request.Context())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			err = xerr.Wrap(err, xerr.RecordNotFound, "扫块进度还没有初始化")
		}
		common.FailErr(c, err)
		return
	}
	common.Success(c, checkpointView{
		Chain:           cp.Chain,
		LastBlockHeight: cp.LastBlockHeight,
		LastBlockHash:   cp.LastBlockHash,
		LastScanAt:      cp.LastScanAt,
		IsScanning:      cp.IsScanning,
		LeaseUntil:      cp.LeaseUntil,
	})
}

func idParam(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("id 不合法")
	}
	return id, nil
}

func pageParams(c *gin.Context) (int, int, error) {
	page, limit := defaultPage, defaultLimit
	if s := c.Query("page"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			return 0, 0, badRequest("page 不合法")
		}
		page = v
	}
	if s := c.Query("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			return 0, 0, badRequest("limit 不合法")
		}
		limit = v
	}
	return page, limit, nil
}
