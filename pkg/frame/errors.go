// SPDX-FileCopyrightText: 2026 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package frame

import "errors"

// ErrInvalid is returned for a Frame failing structural validation:
// short buffer, wrong version, empty flags, payload length mismatch or
// checksum failure. A receiver drops such a Frame silently; the peer's
// retransmission covers the loss.
var ErrInvalid = errors.New("frame: invalid")
