package market

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

// DefaultHTTPTimeout 是未传入 http.Client 时默认客户端的超时。
const DefaultHTTPTimeout = 10 * time.Second

// maxChannelDetails 限制拉取近期帖子的频道数量。
const maxChannelDetails = 3

// Record 是网关返回的原样 JSON 对象。
type Record map[string]any

// Result 记录一次写操作的结果。成功时 Body 为解码后的 JSON，否则为原始文本。
type Result struct {
	StatusCode int `json:"status_code"`
	Body       any `json:"body,omitempty"`
}

// OK 判断网关是否接受了本次调用。
func (r Result) OK() bool {
	return r.StatusCode > 0 && r.StatusCode < http.StatusBadRequest
}

// Listing 是一次拉取得到的原始市场视图。
type Listing struct {
	Items    []Record
	Channels []Record
}

// APIError 表示网关返回的非成功响应。
type APIError struct {
	StatusCode int
	Endpoint   string
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("gateway %s returned %d: %s", e.Endpoint, e.StatusCode, e.Message)
}

// Client 封装与市场及讨论区网关的 HTTP 交互。客户端本身不持有凭证，
// 每次调用都使用执行动作的代理的 bearer token。
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// NewClient 创建网关客户端。httpClient 为 nil 时使用超时为 DefaultHTTPTimeout 的默认客户端。
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, errors.New("gateway url is empty")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid gateway url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("gateway url %q must be absolute", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Register 按需注册账号并登录，返回 bearer token。注册接口返回 400 表示账号已存在。
func (c *Client) Register(ctx context.Context, username, password string) (string, error) {
	creds := map[string]string{"username": username, "password": password}

	res, err := c.call(ctx, http.MethodPost, "/auth/register", "", creds)
	if err != nil {
		return "", err
	}
	if !res.OK() && res.StatusCode != http.StatusBadRequest {
		return "", &APIError{StatusCode: res.StatusCode, Endpoint: "/auth/register", Message: bodyText(res.Body)}
	}

	res, err = c.call(ctx, http.MethodPost, "/auth/login", "", creds)
	if err != nil {
		return "", err
	}
	if !res.OK() {
		return "", &APIError{StatusCode: res.StatusCode, Endpoint: "/auth/login", Message: bodyText(res.Body)}
	}
	obj, _ := res.Body.(map[string]any)
	token, _ := obj["token"].(string)
	if strings.TrimSpace(token) == "" {
		return "", errors.New("login response did not contain a token")
	}
	return token, nil
}

// Fetch 读取市场商品与讨论频道，并为前三个频道各附上至多五条近期帖子。
// 单个频道的帖子加载失败时只省略该频道的帖子。
func (c *Client) Fetch(ctx context.Context, token string) (Listing, error) {
	if strings.TrimSpace(token) == "" {
		return Listing{}, errors.New("no credential available for market fetch")
	}
	items, err := c.records(ctx, token, "/marketplace/list", "items")
	if err != nil {
		return Listing{}, err
	}
	channels, err := c.records(ctx, token, "/discourse/channels", "channels")
	if err != nil {
		return Listing{}, err
	}

	for i := 0; i < len(channels) && i < maxChannelDetails; i++ {
		id, ok := IDString(channels[i]["id"])
		if !ok {
			continue
		}
		posts, err := c.records(ctx, token, "/discourse/channel/"+url.PathEscape(id), "posts")
		if err != nil {
			continue
		}
		if len(posts) > maxPostsPerChannel {
			posts = posts[:maxPostsPerChannel]
		}
		channels[i]["recent_posts"] = posts
	}
	return Listing{Items: items, Channels: channels}, nil
}

// ListItem 在市场上架新商品。
func (c *Client) ListItem(ctx context.Context, token string, params map[string]any) (Result, error) {
	return c.call(ctx, http.MethodPost, "/marketplace/item", token, params)
}

// Purchase 购买指定 id 的商品。
func (c *Client) Purchase(ctx context.Context, token string, itemID any) (Result, error) {
	return c.call(ctx, http.MethodPost, "/marketplace/purchase", token, map[string]any{"itemId": itemID})
}

// CreateChannel 创建新的讨论频道。
func (c *Client) CreateChannel(ctx context.Context, token string, params map[string]any) (Result, error) {
	return c.call(ctx, http.MethodPost, "/discourse/channel", token, params)
}

// PostMessage 在已有频道中发帖。
func (c *Client) PostMessage(ctx context.Context, token string, params map[string]any) (Result, error) {
	return c.call(ctx, http.MethodPost, "/discourse/post", token, params)
}

func (c *Client) records(ctx context.Context, token, endpoint, key string) ([]Record, error) {
	res, err := c.call(ctx, http.MethodGet, endpoint, token, nil)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: res.StatusCode, Endpoint: endpoint, Message: bodyText(res.Body)}
	}
	obj, ok := res.Body.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("gateway %s returned unexpected payload", endpoint)
	}
	raw, _ := obj[key].([]any)
	out := make([]Record, 0, len(raw))
	for _, entry := range raw {
		if m, ok := entry.(map[string]any); ok {
			out = append(out, Record(m))
		}
	}
	return out, nil
}

func (c *Client) call(ctx context.Context, method, endpoint, token string, payload any) (Result, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return Result{}, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.ResolveReference(rel).String(), body)
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Result{}, fmt.Errorf("read response: %w", err)
	}

	res := Result{StatusCode: resp.StatusCode}
	if res.OK() {
		var decoded any
		if len(bytes.TrimSpace(data)) > 0 && json.Unmarshal(data, &decoded) == nil {
			res.Body = decoded
			return res, nil
		}
	}
	res.Body = strings.TrimSpace(string(data))
	return res, nil
}

func bodyText(body any) string {
	switch v := body.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// IDString 把网关标识（JSON 字符串或数字）转换为路径片段。
func IDString(v any) (string, bool) {
	switch id := v.(type) {
	case string:
		return id, id != ""
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), true
	case json.Number:
		return id.String(), true
	case int:
		return strconv.Itoa(id), true
	case int64:
		return strconv.FormatInt(id, 10), true
	default:
		return "", false
	}
}
