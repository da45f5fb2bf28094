// Copyright 2020-2021 The Playout Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; version 2.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package monitor

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// ServeWS streams every Envelope Publish produces to one websocket
// client, per spec.md §6's "subscribe interface", adapted from the
// teacher's pkg/web.Logs websocket route.
func (m *Monitor) ServeWS(auth *TokenAuth) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth != nil && !auth.Valid(r.Header.Get("Authorization")) {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer conn.Close()

		feed, cancel := m.Subscribe()
		defer cancel()

		for data := range feed {
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	})
}
