package tiktok

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
)

var secUIDRe = regexp.MustCompile(`"secUid":"(.*?)",`)

// followersPageSize matches what the web client requests.
const followersPageSize = 30

// SecUID returns the sec_uid of the logged in account (from the session cookies).
func (a *API) SecUID(ctx context.Context) (string, error) {
	resp, err := a.client.Get(ctx, BaseURL+"/foryou")
	if err != nil {
		return "", err
	}
	m := secUIDRe.FindStringSubmatch(resp.Text())
	if m == nil || m[1] == "" {
		return "", errors.New("secUid not found, are the session cookies valid?")
	}
	return m[1], nil
}

type followersPage struct {
	UserList []struct {
		User struct {
			UniqueID string `json:"uniqueId"`
		} `json:"user"`
	} `json:"userList"`
	HasMore   bool        `json:"hasMore"`
	MinCursor json.Number `json:"minCursor"`
}

// Followers returns every account followed by secUID, walking the cursor
// until hasMore is false or the cursor stops advancing.
func (a *API) Followers(ctx context.Context, secUID string) ([]string, error) {
	var (
		followers []string
		cursor    int64
	)
	for {
		page, err := a.followersPage(ctx, secUID, cursor)
		if err != nil {
			return nil, err
		}
		for _, u := range page.UserList {
			if u.User.UniqueID != "" {
				followers = append(followers, u.User.UniqueID)
			}
		}
		next, _ := page.MinCursor.Int64()
		if !page.HasMore || next == cursor {
			break
		}
		cursor = next
	}
	if len(followers) == 0 {
		return nil, ErrNoFollowers
	}
	return followers, nil
}

func (a *API) followersPage(ctx context.Context, secUID string, cursor int64) (*followersPage, error) {
	c := strconv.FormatInt(cursor, 10)
	q := url.Values{
		"aid":             {"1988"},
		"app_name":        {"tiktok_web"},
		"channel":         {"tiktok_web"},
		"device_platform": {"web_pc"},
		"cookie_enabled":  {"true"},
		"from_page":       {"user"},
		"scene":           {"21"},
		"user_is_login":   {"true"},
		"count":           {strconv.Itoa(followersPageSize)},
		"maxCursor":       {c},
		"minCursor":       {c},
		"secUid":          {secUID},
	}
	resp, err := a.client.Get(ctx, BaseURL+"/api/user/list/", WithQuery(q))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("followers list status %d", resp.StatusCode)
	}
	var page followersPage
	if err := json.Unmarshal(resp.Body, &page); err != nil {
		return nil, fmt.Errorf("decode followers page: %w", err)
	}
	return &page, nil
}
