package cache

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultBloomBits = 1 << 20

// BloomFilter 基于Redis位图的布隆过滤器，每个key是一个独立的过滤器
type BloomFilter struct {
	redisClient RedisClient
	prefix      string
	hashCount   int
	bits        uint64
}

// NewBloomFilter 创建新的布隆过滤器
func NewBloomFilter(client RedisClient, prefix string, hashCount int, bits uint64) *BloomFilter {
	if bits == 0 {
		bits = defaultBloomBits
	}
	if hashCount <= 0 {
		hashCount = 5
	}
	return &BloomFilter{
		redisClient: client,
		prefix:      "bloom:" + prefix,
		hashCount:   hashCount,
		bits:        bits,
	}
}

func (bf *BloomFilter) key(name string) string {
	return bf.prefix + ":" + name
}

// Add 添加元素；expireAt 非零时整个过滤器在该时间过期
func (bf *BloomFilter) Add(ctx context.Context, name, item string, expireAt time.Time) error {
	if bf.redisClient == nil {
		return ErrRedisNotAvailable
	}

	key := bf.key(name)
	pipe := bf.redisClient.Pipeline()
	for i := 0; i < bf.hashCount; i++ {
		pipe.SetBit(ctx, key, bf.hash(item, i), 1)
	}
	if !expireAt.IsZero() {
		pipe.ExpireAt(ctx, key, expireAt)
	}

	_, err := pipe.Exec(ctx)
	return err
}

// Contains 检查元素是否可能存在。返回false时元素一定不存在。
func (bf *BloomFilter) Contains(ctx context.Context, name, item string) (bool, error) {
	if bf.redisClient == nil {
		return false, ErrRedisNotAvailable
	}

	key := bf.key(name)
	pipe := bf.redisClient.Pipeline()
	cmds := make([]*redis.IntCmd, 0, bf.hashCount)
	for i := 0; i < bf.hashCount; i++ {
		cmds = append(cmds, pipe.GetBit(ctx, key, bf.hash(item, i)))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}

	// 如果任何一个位为0，则元素肯定不存在
	for _, cmd := range cmds {
		if cmd.Val() == 0 {
			return false, nil
		}
	}
	return true, nil
}

// hash 计算哈希值，使用不同的种子
func (bf *BloomFilter) hash(item string, seed int) int64 {
	h := fnv.New64a()
	h.Write([]byte(item))
	h.Write([]byte{byte(seed)})
	return int64(h.Sum64() % bf.bits)
}

// VoterFilter 记录每个投票中已投票的参与者
type VoterFilter struct {
	bloom *BloomFilter
}

// NewVoterFilter 创建参与者过滤器
func NewVoterFilter(client RedisClient) *VoterFilter {
	return &VoterFilter{bloom: NewBloomFilter(client, "votes", 5, defaultBloomBits)}
}

func pollFilterName(pollID uint) string {
	return fmt.Sprintf("%d", pollID)
}

// MightHaveVoted 返回false时参与者一定没有在该投票中投过票
func (f *VoterFilter) MightHaveVoted(ctx context.Context, pollID uint, participantID string) (bool, error) {
	return f.bloom.Contains(ctx, pollFilterName(pollID), participantID)
}

// MarkVoted 记录参与者已投票，过滤器随投票的删除时间一起过期
func (f *VoterFilter) MarkVoted(ctx context.Context, pollID uint, participantID string, expireAt time.Time) error {
	return f.bloom.Add(ctx, pollFilterName(pollID), participantID, expireAt)
}
