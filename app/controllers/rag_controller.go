package controllers

import (
	"io"
	"mime/multipart"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/aihub/docqa-go/internal/errors"
	"github.com/aihub/docqa-go/internal/knowledge"
	"github.com/aihub/docqa-go/internal/services"
)

// DefaultMaxUploadMemory multipart解析时保留在内存中的字节数
const DefaultMaxUploadMemory = 32 << 20

// RAGDeps RAG接口依赖，由DI容器组装
type RAGDeps struct {
	Ingest          *services.IngestService
	Query           *services.QueryService
	Errors          *apperrors.ErrorHandler
	Logger          *zap.Logger
	Validate        *validator.Validate
	MaxUploadMemory int64
}

// NewRAGDeps 创建控制器依赖
func NewRAGDeps(ingest *services.IngestService, query *services.QueryService, handler *apperrors.ErrorHandler, log *zap.Logger) *RAGDeps {
	if log == nil {
		log = zap.NewNop()
	}
	return &RAGDeps{
		Ingest:          ingest,
		Query:           query,
		Errors:          handler,
		Logger:          log.Named("http"),
		Validate:        validator.New(),
		MaxUploadMemory: DefaultMaxUploadMemory,
	}
}

// RAGController 文档上传与问答
// 字段需导出，beego 为每个请求复制控制器实例时只复制可导出字段
type RAGController struct {
	BaseController
	Deps *RAGDeps
}

// QueryRequest POST /api/query 请求体
type QueryRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"sessionId"`
	TopK      int    `json:"topK" validate:"gte=0,lte=50"`
}

// HighlightRequest POST /api/highlight 请求体
type HighlightRequest struct {
	Text      string               `json:"text" validate:"required"`
	Citations []knowledge.Citation `json:"citations"`
}

// Ingest POST /api/ingest
// multipart字段 files，可选 sessionId（查询参数或表单）；缺省时生成新会话
func (c *RAGController) Ingest() {
	if err := c.Ctx.Request.ParseMultipartForm(c.Deps.MaxUploadMemory); err != nil {
		c.JSONError(c.Deps.Errors, apperrors.NewValidationError(services.MsgNoFiles).WithCause(err))
		return
	}

	headers := c.Ctx.Request.MultipartForm.File["files"]
	if len(headers) == 0 {
		c.JSONError(c.Deps.Errors, apperrors.NewValidationError(services.MsgNoFiles))
		return
	}

	sessionID := strings.TrimSpace(c.GetString("sessionId"))
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	files := make([]knowledge.UploadFile, 0, len(headers))
	for _, fh := range headers {
		file, err := readUpload(fh)
		if err != nil {
			c.JSONError(c.Deps.Errors, apperrors.NewValidationError("Failed to read uploaded file").
				WithDetails(fh.Filename).WithCause(err))
			return
		}
		files = append(files, file)
	}
	c.Deps.Logger.Info("Ingest request",
		zap.String("session_id", sessionID),
		zap.Int("files", len(files)))

	result, err := c.Deps.Ingest.Ingest(c.Ctx.Request.Context(), files, sessionID)
	if err != nil {
		c.JSONError(c.Deps.Errors, err)
		return
	}
	c.JSONSuccess(result)
}

// Query POST /api/query
func (c *RAGController) Query() {
	var req QueryRequest
	if err := c.bindJSON(&req); err != nil {
		c.JSONError(c.Deps.Errors, err)
		return
	}
	if err := c.Deps.Validate.Struct(req); err != nil {
		c.JSONError(c.Deps.Errors, err)
		return
	}

	answer, err := c.Deps.Query.Query(c.Ctx.Request.Context(), req.Question, req.SessionID, req.TopK)
	if err != nil {
		// 生成失败仍返回固定回答与引用
		if apperrors.HasCode(err, apperrors.ErrCodeGenerationFailed) && answer != nil && answer.Answer != "" {
			if c.Deps.Errors != nil {
				c.Deps.Errors.Log(c.Ctx.Request.URL.Path, apperrors.GetAppError(err))
			}
			c.JSONSuccess(answer)
			return
		}
		c.JSONError(c.Deps.Errors, err)
		return
	}
	c.JSONSuccess(answer)
}

// Highlight POST /api/highlight
func (c *RAGController) Highlight() {
	var req HighlightRequest
	if err := c.bindJSON(&req); err != nil {
		c.JSONError(c.Deps.Errors, err)
		return
	}
	if err := c.Deps.Validate.Struct(req); err != nil {
		c.JSONError(c.Deps.Errors, err)
		return
	}
	c.JSONSuccess(map[string]string{
		"html": knowledge.Highlight(req.Text, req.Citations),
	})
}

// IngestStatus GET /api/ingest/status?sessionId=
func (c *RAGController) IngestStatus() {
	sessionID := c.GetString("sessionId")
	summary, err := c.Deps.Ingest.LastIngest(c.Ctx.Request.Context(), sessionID)
	if err != nil {
		c.JSONError(c.Deps.Errors, err)
		return
	}
	c.JSONSuccess(map[string]interface{}{
		"sessionId":  sessionID,
		"lastIngest": summary,
	})
}

func readUpload(fh *multipart.FileHeader) (knowledge.UploadFile, error) {
	f, err := fh.Open()
	if err != nil {
		return knowledge.UploadFile{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return knowledge.UploadFile{}, err
	}
	return knowledge.UploadFile{
		Name:     fh.Filename,
		Data:     data,
		MimeType: fh.Header.Get("Content-Type"),
	}, nil
}
