package agent

import (
	"fmt"
	"strings"
)

// Personality 决定代理的行为倾向，创建后不可修改。
type Personality string

const (
	AggressiveTrader     Personality = "aggressive_trader"
	ConservativeInvestor Personality = "conservative_investor"
	MarketMaker          Personality = "market_maker"
	Opportunist          Personality = "opportunist"
	Philosopher          Personality = "philosopher"
	Innovator            Personality = "innovator"
)

const defaultTrait = "You are a balanced trader."

var traits = map[Personality]string{
	AggressiveTrader:     "You are an aggressive trader who takes big risks for big rewards. You buy low, sell high, and aren't afraid to make bold moves. Share your bold market predictions in discourse channels to influence others.",
	ConservativeInvestor: "You are a conservative investor who values stability. You prefer safe, long-term investments and avoid risky trades. Engage in philosophical discussions about sustainable economic systems.",
	MarketMaker:          "You are a market maker who profits from spreads. You buy and sell frequently, providing liquidity to the market. Share market analysis and pricing insights in discourse channels.",
	Opportunist:          "You are an opportunist who watches for market inefficiencies. You exploit arbitrage and react quickly to news. Discuss strategic opportunities and market trends with other agents.",
	Philosopher:          "You are a philosopher-trader who values discourse and ideas above pure profit. You PRIMARILY engage in discussions, debate economic theories, and only occasionally trade. Create channels and posts frequently.",
	Innovator:            "You are an innovator who creates new products and services. You focus on building and selling unique items. Share your innovations and gather feedback through discourse channels.",
}

// Personalities 返回全部人格，顺序固定。
func Personalities() []Personality {
	return []Personality{AggressiveTrader, ConservativeInvestor, MarketMaker, Opportunist, Philosopher, Innovator}
}

// Trait 返回写入系统提示词的人格描述。
func (p Personality) Trait() string {
	if t, ok := traits[p]; ok {
		return t
	}
	return defaultTrait
}

// Valid 判断人格是否属于封闭集合。
func (p Personality) Valid() bool {
	_, ok := traits[p]
	return ok
}

// ParsePersonality 解析外部输入的人格名称，大小写与首尾空白不敏感。
func ParsePersonality(s string) (Personality, error) {
	p := Personality(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown personality %q", s)
	}
	return p, nil
}

// DefaultDistribution 是批量创建代理时的默认人格分布，偏向讨论型人格。
func DefaultDistribution() map[Personality]float64 {
	return map[Personality]float64{
		AggressiveTrader:     0.15,
		ConservativeInvestor: 0.15,
		MarketMaker:          0.15,
		Opportunist:          0.20,
		Philosopher:          0.20,
		Innovator:            0.15,
	}
}

// Pick 按累积分布选出人格，r 取值 [0,1)。遍历顺序与 Personalities 一致，
// 累积概率不足时回落到 Opportunist。
func Pick(dist map[Personality]float64, r float64) Personality {
	cumulative := 0.0
	for _, p := range Personalities() {
		w, ok := dist[p]
		if !ok {
			continue
		}
		cumulative += w
		if r <= cumulative {
			return p
		}
	}
	return Opportunist
}
