package server

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/hrygo/mnemora/engine"
	"github.com/hrygo/mnemora/store"
)

// Handler executes one named method. Request decoding is the handler's
// responsibility; the dispatcher only routes and renders.
type Handler func(c echo.Context) (any, error)

// methodTable is the complete public surface, built once at startup.
func (s *Server) methodTable() map[string]Handler {
	return map[string]Handler{
		"memorize":          s.handleMemorize,
		"recall":            s.handleRecall,
		"memories.get":      s.handleMemoryGet,
		"memories.list":     s.handleMemoryList,
		"memories.update":   s.handleMemoryUpdate,
		"memories.forget":   s.handleMemoryForget,
		"tags.suggest":      s.handleTagSuggest,
		"tags.list":         s.handleTagList,
		"tags.consolidate":  s.handleTagConsolidate,
		"categories.list":   s.handleCategoryList,
		"categories.create": s.handleCategoryCreate,
	}
}

func (s *Server) handleMemorize(c echo.Context) (any, error) {
	var req engine.MemorizeRequest
	if err := c.Bind(&req); err != nil {
		return nil, errors.Wrap(store.ErrInvalidArgument, err.Error())
	}
	return s.Engine.Memorize(c.Request().Context(), &req)
}

type recallRequest struct {
	Query   string               `json:"query"`
	Options engine.SearchOptions `json:"options"`
}

func (s *Server) handleRecall(c echo.Context) (any, error) {
	var req recallRequest
	if err := c.Bind(&req); err != nil {
		return nil, errors.Wrap(store.ErrInvalidArgument, err.Error())
	}
	if req.Query == "" {
		return nil, errors.Wrap(store.ErrInvalidArgument, "query cannot be empty")
	}
	return s.Engine.Search(c.Request().Context(), req.Query, &req.Options)
}

type memoryIDRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleMemoryGet(c echo.Context) (any, error) {
	var req memoryIDRequest
	if err := c.Bind(&req); err != nil {
		return nil, errors.Wrap(store.ErrInvalidArgument, err.Error())
	}
	return s.Engine.Store.GetMemory(c.Request().Context(), req.ID)
}

type memoryListRequest struct {
	Category       string   `json:"category"`
	Tags           []string `json:"tags"`
	ImportanceMin  int      `json:"importanceMin"`
	IncludeExpired bool     `json:"includeExpired"`
	Limit          int      `json:"limit"`
	Offset         int      `json:"offset"`
}

func (s *Server) handleMemoryList(c echo.Context) (any, error) {
	var req memoryListRequest
	if err := c.Bind(&req); err != nil {
		return nil, errors.Wrap(store.ErrInvalidArgument, err.Error())
	}

	active := store.Active
	find := &store.FindMemory{
		Tags:           req.Tags,
		IncludeExpired: req.IncludeExpired,
		RowStatus:      &active,
		Limit:          req.Limit,
		Offset:         req.Offset,
	}
	if req.Category != "" {
		find.Category = &req.Category
	}
	if req.ImportanceMin > 0 {
		find.ImportanceMin = &req.ImportanceMin
	}
	return s.Engine.Store.ListMemories(c.Request().Context(), find)
}

type memoryUpdateRequest struct {
	ID         string    `json:"id"`
	Content    *string   `json:"content"`
	Tags       *[]string `json:"tags"`
	Category   *string   `json:"category"`
	Importance *int      `json:"importance"`
	ExpiresTs  *int64    `json:"expiresTs"`
}

func (s *Server) handleMemoryUpdate(c echo.Context) (any, error) {
	var req memoryUpdateRequest
	if err := c.Bind(&req); err != nil {
		return nil, errors.Wrap(store.ErrInvalidArgument, err.Error())
	}
	return s.Engine.Store.UpdateMemory(c.Request().Context(), &store.UpdateMemory{
		ID:         req.ID,
		Content:    req.Content,
		Tags:       req.Tags,
		Category:   req.Category,
		Importance: req.Importance,
		ExpiresTs:  req.ExpiresTs,
	})
}

func (s *Server) handleMemoryForget(c echo.Context) (any, error) {
	var req memoryIDRequest
	if err := c.Bind(&req); err != nil {
		return nil, errors.Wrap(store.ErrInvalidArgument, err.Error())
	}
	if err := s.Engine.Store.DeleteMemory(c.Request().Context(), req.ID); err != nil {
		return nil, err
	}
	return map[string]bool{"forgotten": true}, nil
}

type tagSuggestRequest struct {
	Terms         []string `json:"terms"`
	MaxResults    int      `json:"maxResults"`
	MinSimilarity float64  `json:"minSimilarity"`
}

func (s *Server) handleTagSuggest(c echo.Context) (any, error) {
	var req tagSuggestRequest
	if err := c.Bind(&req); err != nil {
		return nil, errors.Wrap(store.ErrInvalidArgument, err.Error())
	}
	if len(req.Terms) == 0 {
		return nil, errors.Wrap(store.ErrInvalidArgument, "terms cannot be empty")
	}
	maxResults := req.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}
	minSimilarity := req.MinSimilarity
	if minSimilarity <= 0 {
		minSimilarity = s.Profile.SuggestMinSimilarity
	}
	return s.Engine.Registry().Suggest(c.Request().Context(), req.Terms, maxResults, minSimilarity)
}

func (s *Server) handleTagList(c echo.Context) (any, error) {
	active := store.Active
	return s.Engine.Store.ListTags(c.Request().Context(), &store.FindTag{RowStatus: &active})
}

func (s *Server) handleTagConsolidate(c echo.Context) (any, error) {
	merges, err := s.Engine.Consolidate(c.Request().Context())
	if err != nil {
		return nil, err
	}
	return map[string]any{"merges": merges, "count": len(merges)}, nil
}

func (s *Server) handleCategoryList(c echo.Context) (any, error) {
	active := store.Active
	return s.Engine.Store.ListCategories(c.Request().Context(), &store.FindCategory{RowStatus: &active})
}

type categoryCreateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) handleCategoryCreate(c echo.Context) (any, error) {
	var req categoryCreateRequest
	if err := c.Bind(&req); err != nil {
		return nil, errors.Wrap(store.ErrInvalidArgument, err.Error())
	}
	return s.Engine.Store.CreateCategory(c.Request().Context(), &store.Category{
		Name:        req.Name,
		Description: req.Description,
	})
}
