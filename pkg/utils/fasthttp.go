package utils

import (
	"errors"
	"fmt"
	"time"

	json "github.com/json-iterator/go"
	"github.com/tidwall/gjson"
	"github.com/valyala/fasthttp"
)

// DefaultHttpTimeout 未指定超时时使用的默认值
const DefaultHttpTimeout = 10 * time.Second

type Header struct {
	Key   string
	Value string
}

// Http 一次基于fasthttp的请求
type Http struct {
	Url     string
	Method  string
	Body    []byte
	Headers []Header
	Timeout time.Duration

	Response *fasthttp.Response
}

func NewHttp(method, url string, body []byte, headers ...Header) *Http {
	return &Http{
		Url:     url,
		Method:  method,
		Body:    body,
		Headers: headers,
		Timeout: DefaultHttpTimeout,
	}
}

// Do 发送请求，非2xx状态码返回错误。成功时需要调用 Close 释放响应
func (h *Http) Do() error {
	request := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(request)
	response := fasthttp.AcquireResponse()

	if h.Method == "" {
		h.Method = fasthttp.MethodGet
	}
	request.Header.SetMethod(h.Method)
	request.SetRequestURI(h.Url)
	if len(h.Body) > 0 {
		request.Header.SetContentType("application/json")
		request.SetBody(h.Body)
	}
	for _, header := range h.Headers {
		request.Header.Set(header.Key, header.Value)
	}

	timeout := h.Timeout
	if timeout <= 0 {
		timeout = DefaultHttpTimeout
	}
	if err := fasthttp.DoTimeout(request, response, timeout); err != nil {
		fasthttp.ReleaseResponse(response)
		return err
	}

	code := response.StatusCode()
	if code < 200 || code >= 300 {
		body := string(response.Body())
		fasthttp.ReleaseResponse(response)
		return fmt.Errorf("%s request failed, status code: %d, body: %s", h.Method, code, Truncate(body, 256))
	}

	h.Response = response
	return nil
}

func (h *Http) Unmarshal(v interface{}) error {
	defer h.Close()
	body := h.Response.Body()
	if len(body) == 0 {
		return errors.New("response body is empty")
	}
	return json.Unmarshal(body, v)
}

// Result 以gjson解析响应体，空响应体返回空结果
func (h *Http) Result() *gjson.Result {
	defer h.Close()
	result := gjson.ParseBytes(h.Response.Body())
	return &result
}

func (h *Http) Close() {
	if h.Response != nil {
		fasthttp.ReleaseResponse(h.Response)
		h.Response = nil
	}
}

// HttpPost 以JSON发送body，body为[]byte时原样发送
func HttpPost(uri string, v interface{}, timeout time.Duration, headers ...Header) (*gjson.Result, error) {
	var body []byte
	switch b := v.(type) {
	case nil:
	case []byte:
		body = b
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		body = data
	}

	h := NewHttp(fasthttp.MethodPost, uri, body, headers...)
	h.Timeout = timeout
	if err := h.Do(); err != nil {
		return nil, err
	}
	return h.Result(), nil
}
