package main

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

var httpClient = &http.Client{Timeout: 10 * time.Second}

func doRequest(method, url string, body []byte) (int, []byte, error) {
	var reqBody io.Reader
	if body != nil {
		reqBody = strings.NewReader(string(body))
	}
	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, out, nil
}

func postJSON(url string, payload any) (int, []byte, error) {
	var body []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = b
	}
	return doRequest(http.MethodPost, url, body)
}

func getJSON(url string, out any) (int, error) {
	status, body, err := doRequest(http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	if status >= 300 {
		return status, fmt.Errorf("unexpected status %d: %s", status, string(body))
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return status, err
		}
	}
	return status, nil
}
