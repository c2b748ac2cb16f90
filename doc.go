/*
 *
 * Copyright 2023 CubeFS authors.
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
 *
 */

/*

# mdsclient: a metadata-client core for a distributed file system

mdsclient implements the mount-side half of the metadata protocol between a
file system client and its cluster of metadata servers (MDSes), modeled on
CephFS's client-side mds_client: cluster map tracking, per-MDS sessions,
capability (cap) bitmask grants/revokes with flush-before-ack sequencing, a
tid-tracked request pipeline with unsafe/safe reply phases and forwarding,
ESTALE retry-with-retarget, reconnect, dentry leases, snap-realm tracking,
and a two-phase unmount.

## Packages

  - proto: wire-independent message and id types for every protocol message.
  - mdsmap: decoded cluster map view and epoch-diffing.
  - transport / transport/grpctransport: the opaque messenger contract and
    a concrete gRPC-backed implementation.
  - mapsource: how cluster maps are fetched/subscribed, decoupled from the
    coordinator that consumes them.
  - session: per-MDS session state machine, cap set, release buffering.
  - capcache: the client-wide cap cache keyed by inode.
  - request: the tid-tracked request pipeline: target selection, encoding,
    forward/retry/stale handling.
  - coordinator: assembles every other package into the one object a mount
    owns.
  - client: the embeddable façade a mount process wires up.
  - cmd: a standalone binary wrapping client.Client.

*/

package mdsclient
