/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package transport

import (
	"net"
	"strconv"
	"sync/atomic"
	"time"
)

// HandleInfo describes an open handle.
type HandleInfo struct {
	ID       uint64    `json:"id"`
	Remote   string    `json:"remote"`
	OpenedAt time.Time `json:"opened_at"`
	Requests uint64    `json:"requests"`
	// PeerPID and PeerUID are set for unix-socket peers on platforms that
	// report peer credentials.
	PeerPID     int32  `json:"peer_pid,omitempty"`
	PeerUID     uint32 `json:"peer_uid,omitempty"`
	HasPeerCred bool   `json:"has_peer_cred"`
}

// handle is one accepted connection. The buffer keeps no per-handle state;
// this only exists for bookkeeping and so Close can reach every connection.
type handle struct {
	id       uint64
	conn     net.Conn
	openedAt time.Time
	requests atomic.Uint64
	pid      int32
	uid      uint32
	hasCred  bool
}

func newHandle(id uint64, conn net.Conn) *handle {
	h := &handle{id: id, conn: conn, openedAt: time.Now()}
	h.pid, h.uid, h.hasCred = peerCredentials(conn)
	return h
}

func (h *handle) key() string {
	return strconv.FormatUint(h.id, 10)
}

func (h *handle) info() HandleInfo {
	remote := ""
	if addr := h.conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	return HandleInfo{
		ID:          h.id,
		Remote:      remote,
		OpenedAt:    h.openedAt,
		Requests:    h.requests.Load(),
		PeerPID:     h.pid,
		PeerUID:     h.uid,
		HasPeerCred: h.hasCred,
	}
}
