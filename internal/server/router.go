package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/threadkeep/backend/internal/auth"
	"github.com/threadkeep/backend/internal/forum"
	"github.com/threadkeep/backend/internal/throttle"
	"github.com/threadkeep/backend/internal/users"
	"go.uber.org/zap"
)

const (
	actorContextKey     = "threadkeep_actor"
	requestIDContextKey = "threadkeep_request_id"

	scopeDefault = "default"
	scopeSlow    = "slow"
)

var (
	errMissingTokenManager   = errors.New("token manager dependency required")
	errMissingAccountService = errors.New("account service dependency required")
	errMissingForumService   = errors.New("forum service dependency required")
	errMissingThrottle       = errors.New("throttle dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates bearer tokens.
type TokenManager interface {
	IssueToken(actor auth.ActorClaims) (string, int64, error)
	ValidateToken(token string) (auth.ActorClaims, error)
}

// Dependencies wires the HTTP handler to its collaborators.
type Dependencies struct {
	TokenManager TokenManager
	Accounts     *users.Service
	Forum        *forum.Service
	Throttle     *throttle.Limiter
	Logger       *zap.Logger
}

// NewHTTPHandler builds the gin handler exposing the forum API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Accounts == nil {
		return nil, errMissingAccountService
	}
	if deps.Forum == nil {
		return nil, errMissingForumService
	}
	if deps.Throttle == nil {
		return nil, errMissingThrottle
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPatch,
			http.MethodPut, http.MethodDelete, http.MethodOptions,
		},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:       deps.TokenManager,
		accounts:     deps.Accounts,
		forumService: deps.Forum,
		throttle:     deps.Throttle,
		logger:       logger,
	}

	router.POST("/auth/register", handler.handleRegister)
	router.POST("/auth/login", handler.handleLogin)

	api := router.Group("/api")
	api.Use(handler.authorizeRequest)
	api.Use(handler.throttleScope(scopeDefault))

	api.GET("/topics", handler.handleListTopics)
	api.POST("/topics", handler.throttleScope(scopeSlow), handler.handleCreateTopic)
	api.DELETE("/topics/:id", handler.handleDeleteTopic)
	api.GET("/topics/:id/posts", handler.handleListPosts)
	api.POST("/topics/:id/posts", handler.throttleScope(scopeSlow), handler.handleCreateReply)
	api.GET("/topics/:id/posts/:postID", handler.handleGetPost)
	api.PATCH("/topics/:id/posts/:postID", handler.handleUpdatePost)
	api.PUT("/topics/:id/posts/:postID", handler.handleUpdatePost)
	api.DELETE("/topics/:id/posts/:postID", handler.handleDeletePost)
	api.GET("/users", handler.handleListUsers)

	return router, nil
}

type httpHandler struct {
	tokens       TokenManager
	accounts     *users.Service
	forumService *forum.Service
	throttle     *throttle.Limiter
	logger       *zap.Logger
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(requestIDContextKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

type credentialsPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Secret   string `json:"secret"`
}

type tokenResponsePayload struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
	TokenType string `json:"token_type"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	account, err := h.accounts.Register(c.Request.Context(), request.Username, request.Password, request.Secret)
	if err != nil {
		switch {
		case errors.Is(err, users.ErrWrongSecret):
			c.JSON(http.StatusForbidden, gin.H{"error": "wrong_secret"})
		case errors.Is(err, users.ErrUsernameTaken):
			c.JSON(http.StatusBadRequest, gin.H{"error": "username_taken"})
		case errors.Is(err, users.ErrInvalidUsername), errors.Is(err, users.ErrInvalidCredentials):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		default:
			h.logger.Error("registration failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "registration_failed"})
		}
		return
	}

	h.issueToken(c, http.StatusCreated, account)
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	account, err := h.accounts.Authenticate(c.Request.Context(), request.Username, request.Password)
	if err != nil {
		if errors.Is(err, users.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		h.logger.Error("login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login_failed"})
		return
	}

	h.issueToken(c, http.StatusOK, account)
}

func (h *httpHandler) issueToken(c *gin.Context, status int, account users.Account) {
	token, expiresIn, err := h.tokens.IssueToken(auth.ActorClaims{
		Username: account.Username,
		Admin:    account.Admin,
	})
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(status, tokenResponsePayload{Token: token, ExpiresIn: expiresIn, TokenType: "Bearer"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	tokenString := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if tokenString == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}

	claims, err := h.tokens.ValidateToken(tokenString)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	// The account row, not the token claim, is the authority on admin status.
	account, err := h.accounts.ByUsername(c.Request.Context(), claims.Username)
	if err != nil {
		if errors.Is(err, users.ErrAccountNotFound) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		h.logger.Error("account lookup failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "account_lookup_failed"})
		return
	}

	c.Set(actorContextKey, forum.Actor{ID: account.ID, Name: account.Username, Admin: account.Admin})
	c.Next()
}

func (h *httpHandler) throttleScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		actor := currentActor(c)
		decision := h.throttle.Check(actor.Name, scope)
		if !decision.Allowed {
			seconds := decision.RetryAfterSeconds()
			c.Header("Retry-After", strconv.Itoa(seconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"detail": fmt.Sprintf("Request was throttled. Expected available in %d seconds.", seconds),
			})
			return
		}
		c.Next()
	}
}

func currentActor(c *gin.Context) forum.Actor {
	value, ok := c.Get(actorContextKey)
	if !ok {
		return forum.Actor{}
	}
	actor, ok := value.(forum.Actor)
	if !ok {
		return forum.Actor{}
	}
	return actor
}

type topicPayload struct {
	ID        uint64    `json:"id"`
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	LastPost  time.Time `json:"last_post"`
	PostCount int64     `json:"post_count"`
}

type topicListItemPayload struct {
	topicPayload
	SeenCount int64 `json:"seen_count"`
}

type postPayload struct {
	ID        uint64    `json:"id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type indexedPostPayload struct {
	postPayload
	Index int `json:"index"`
}

func topicToPayload(topic forum.Topic) topicPayload {
	return topicPayload{
		ID:        topic.ID,
		Title:     topic.Title,
		Author:    topic.Author,
		LastPost:  topic.LastPost,
		PostCount: topic.PostCount,
	}
}

func postToPayload(post forum.Post) postPayload {
	return postPayload{
		ID:        post.ID,
		Author:    post.Author,
		Text:      post.Text,
		Timestamp: post.Timestamp,
	}
}

func (h *httpHandler) handleListTopics(c *gin.Context) {
	page, ok := pageParam(c)
	if !ok {
		return
	}

	listing, err := h.forumService.ListTopics(c.Request.Context(), currentActor(c), page)
	if err != nil {
		h.writeDomainError(c, err)
		return
	}

	results := make([]topicListItemPayload, 0, len(listing.Topics))
	for _, summary := range listing.Topics {
		results = append(results, topicListItemPayload{
			topicPayload: topicToPayload(summary.Topic),
			SeenCount:    summary.SeenCount,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"count":     listing.Window.Count,
		"num_pages": listing.Window.NumPages,
		"page_size": listing.Window.PageSize,
		"results":   results,
	})
}

type newTopicPayload struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

func (h *httpHandler) handleCreateTopic(c *gin.Context) {
	var request newTopicPayload
	if !bindStrictJSON(c, &request) {
		return
	}

	topic, err := h.forumService.CreateTopic(c.Request.Context(), currentActor(c), request.Title, request.Text)
	if err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, topicToPayload(topic))
}

func (h *httpHandler) handleDeleteTopic(c *gin.Context) {
	topicID, ok := idParam(c, "id")
	if !ok {
		return
	}

	if err := h.forumService.DeleteTopic(c.Request.Context(), currentActor(c), topicID); err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListPosts(c *gin.Context) {
	topicID, ok := idParam(c, "id")
	if !ok {
		return
	}
	page, ok := pageParam(c)
	if !ok {
		return
	}

	listing, err := h.forumService.ListPosts(c.Request.Context(), currentActor(c), topicID, page)
	if err != nil {
		h.writeDomainError(c, err)
		return
	}

	results := make([]indexedPostPayload, 0, len(listing.Posts))
	for _, indexed := range listing.Posts {
		results = append(results, indexedPostPayload{
			postPayload: postToPayload(indexed.Post),
			Index:       indexed.Index,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"count":     listing.Window.Count,
		"num_pages": listing.Window.NumPages,
		"page_size": listing.Window.PageSize,
		"topic":     topicToPayload(listing.Topic),
		"results":   results,
	})
}

type replyPayload struct {
	Text string `json:"text"`
}

func (h *httpHandler) handleCreateReply(c *gin.Context) {
	topicID, ok := idParam(c, "id")
	if !ok {
		return
	}

	// Only topic creation rejects unknown body fields; replies bind leniently.
	var request replyPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	post, err := h.forumService.CreateReply(c.Request.Context(), currentActor(c), topicID, request.Text)
	if err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, postToPayload(post))
}

func (h *httpHandler) handleGetPost(c *gin.Context) {
	topicID, ok := idParam(c, "id")
	if !ok {
		return
	}
	postID, ok := idParam(c, "postID")
	if !ok {
		return
	}

	detail, err := h.forumService.GetPost(c.Request.Context(), topicID, postID)
	if err != nil {
		h.writeDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":        detail.Post.ID,
		"author":    detail.Post.Author,
		"text":      detail.Post.Text,
		"timestamp": detail.Post.Timestamp,
		"topic":     topicToPayload(detail.Topic),
		"context": gin.H{
			"index": detail.Position.Index,
			"page":  detail.Position.Page,
		},
	})
}

type editPostPayload struct {
	Text   *string `json:"text"`
	Author *string `json:"author"`
}

func (h *httpHandler) handleUpdatePost(c *gin.Context) {
	topicID, ok := idParam(c, "id")
	if !ok {
		return
	}
	postID, ok := idParam(c, "postID")
	if !ok {
		return
	}

	var request editPostPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	post, err := h.forumService.UpdatePost(c.Request.Context(), currentActor(c), topicID, postID, forum.PostUpdate{
		Text:   request.Text,
		Author: request.Author,
	})
	if err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, postToPayload(post))
}

func (h *httpHandler) handleDeletePost(c *gin.Context) {
	topicID, ok := idParam(c, "id")
	if !ok {
		return
	}
	postID, ok := idParam(c, "postID")
	if !ok {
		return
	}

	if err := h.forumService.DeletePost(c.Request.Context(), currentActor(c), topicID, postID); err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListUsers(c *gin.Context) {
	page, ok := pageParam(c)
	if !ok {
		return
	}

	listing, err := h.forumService.ListUsers(c.Request.Context(), page)
	if err != nil {
		h.writeDomainError(c, err)
		return
	}

	results := make([]gin.H, 0, len(listing.Users))
	for _, user := range listing.Users {
		results = append(results, gin.H{
			"id":         user.ID,
			"username":   user.Username,
			"post_count": user.PostCount,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"count":     listing.Window.Count,
		"num_pages": listing.Window.NumPages,
		"page_size": listing.Window.PageSize,
		"results":   results,
	})
}

// pageParam reads the 1-based ?page= value; a malformed value is treated the
// same as a page outside the valid bounds.
func pageParam(c *gin.Context) (int, bool) {
	raw := c.DefaultQuery("page", "1")
	page, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "invalid_page"})
		return 0, false
	}
	return page, true
}

func idParam(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return 0, false
	}
	return id, true
}

// bindStrictJSON decodes the body rejecting unknown fields, the contract for
// topic creation.
func bindStrictJSON(c *gin.Context, target interface{}) bool {
	decoder := json.NewDecoder(c.Request.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return false
	}
	return true
}

func (h *httpHandler) writeDomainError(c *gin.Context, err error) {
	var domainErr *forum.Error
	if errors.As(err, &domainErr) {
		switch domainErr.Kind() {
		case forum.KindValidation:
			c.JSON(http.StatusBadRequest, gin.H{"error": domainErr.Code()})
			return
		case forum.KindPermission:
			c.JSON(http.StatusForbidden, gin.H{"error": domainErr.Code()})
			return
		case forum.KindNotFound, forum.KindOutOfRange:
			c.JSON(http.StatusNotFound, gin.H{"error": domainErr.Code()})
			return
		}
	}

	h.logger.Error("request failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
}
