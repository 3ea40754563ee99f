/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package port

// SequenceGenerator is a free-running 16-bit counter, one per outbound
// message class per port. It wraps on overflow and is not persisted across
// role transitions: a port re-entering Master gets a fresh MasterState,
// and with it a fresh SequenceGenerator.
type SequenceGenerator struct {
	next uint16
}

// Generate returns the current value and post-increments, wrapping
// uint16 addition handles the overflow case for free.
func (g *SequenceGenerator) Generate() uint16 {
	v := g.next
	g.next++
	return v
}

// Peek returns the value Generate would return next, without consuming it.
func (g *SequenceGenerator) Peek() uint16 {
	return g.next
}
