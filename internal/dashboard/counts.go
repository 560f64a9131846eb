package dashboard

import (
	"bytes"
	"encoding/json"
)

// NameTotal 是图表数据中的一项。
type NameTotal struct {
	Name  string `json:"name"`
	Total int    `json:"total"`
}

// Counts 是按首次出现顺序保存键的计数器。
//
// 序列化为 JSON 对象时键的顺序与首次出现顺序一致，只包含出现过的键。
type Counts struct {
	keys   []string
	totals map[string]int
}

// NewCounts 创建空计数器。
func NewCounts() *Counts {
	return &Counts{totals: make(map[string]int)}
}

// Add 将 key 的计数加一。
func (c *Counts) Add(key string) {
	if _, ok := c.totals[key]; !ok {
		c.keys = append(c.keys, key)
	}
	c.totals[key]++
}

// Get 返回 key 的计数，未出现过时为 0。
func (c *Counts) Get(key string) int {
	return c.totals[key]
}

// Keys 按首次出现顺序返回全部键。
func (c *Counts) Keys() []string {
	return append([]string(nil), c.keys...)
}

// Sum 返回所有计数之和。
func (c *Counts) Sum() int {
	sum := 0
	for _, v := range c.totals {
		sum += v
	}
	return sum
}

// Pairs 按首次出现顺序返回 {name,total} 列表。
func (c *Counts) Pairs() []NameTotal {
	out := make([]NameTotal, 0, len(c.keys))
	for _, k := range c.keys {
		out = append(out, NameTotal{Name: k, Total: c.totals[k]})
	}
	return out
}

// MarshalJSON 按首次出现顺序输出 JSON 对象。
func (c *Counts) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range c.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(c.totals[k])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
