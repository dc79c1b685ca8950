package session

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
)

// Jar is an http.CookieJar that can be emptied. It holds the HttpOnly
// refresh cookie for the client.
type Jar struct {
	mu  sync.RWMutex
	jar *cookiejar.Jar
}

func NewJar() *Jar {
	j := &Jar{}
	j.Reset()
	return j
}

func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	j.jar.SetCookies(u, cookies)
}

func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.jar.Cookies(u)
}

// Reset drops every cookie.
func (j *Jar) Reset() {
	// cookiejar.New only fails on a bad PublicSuffixList, and none is passed.
	fresh, _ := cookiejar.New(nil)
	j.mu.Lock()
	j.jar = fresh
	j.mu.Unlock()
}
