package main

import (
	"fmt"

	"github.com/go-resty/resty/v2"
)

func apiClient() *resty.Client {
	return resty.New().
		SetBaseURL(serverFlag).
		SetHeader("X-Account-ID", accountFlag).
		SetHeader("Accept", "application/json")
}

func doGet(path string) ([]byte, error) {
	resp, err := apiClient().R().Get(path)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("GET %s: %s: %s", path, resp.Status(), resp.String())
	}
	return resp.Body(), nil
}

func doPost(path string) ([]byte, error) {
	resp, err := apiClient().R().Post(path)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("POST %s: %s: %s", path, resp.Status(), resp.String())
	}
	return resp.Body(), nil
}
