package okx

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cast"
)

// okx 公开接口，不需要 apikey

type PublicClient struct {
	httpClient *http.Client
	baseURL    string
}

func NewPublicClient() *PublicClient {
	return &PublicClient{
		baseURL: "https://www.okx.com/api/v5",
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// GetFundingRate 当前资金费率
func (c *PublicClient) GetFundingRate(ctx context.Context, instId string) (float64, error) {
	var data []struct {
		FundingRate string `json:"fundingRate"`
	}
	endpoint := fmt.Sprintf("/public/funding-rate?instId=%s", instId)
	if err := c.doPublicGet(ctx, endpoint, &data); err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, fmt.Errorf("no funding rate for %s", instId)
	}
	return cast.ToFloat64(data[0].FundingRate), nil
}

// doPublicGet 执行通用的 GET 请求，处理 JSON 解析和错误
func (c *PublicClient) doPublicGet(ctx context.Context, endpoint string, result any) error {
	url := fmt.Sprintf("%s%s", c.baseURL, endpoint)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("okx public api status: %d", resp.StatusCode)
	}

	// 标准响应格式：{"code":"0", "msg":"", "data":[...]}
	var apiResponse struct {
		Code string          `json:"code"`
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResponse); err != nil {
		return err
	}
	if apiResponse.Code != "0" {
		return fmt.Errorf("okx api error, code: %s, msg: %s", apiResponse.Code, apiResponse.Msg)
	}
	return json.Unmarshal(apiResponse.Data, result)
}
