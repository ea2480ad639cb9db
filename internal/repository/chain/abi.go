package chain

// VoucherLedgerABI is the ABI of the on-chain voucher ledger contract. The
// contract owns code uniqueness and the used flag; every transaction touching
// one code is serialised by the chain.
const VoucherLedgerABI = `[
  {
    "type": "function",
    "name": "issueVoucher",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "code", "type": "string"},
      {"name": "kind", "type": "uint8"},
      {"name": "holderName", "type": "string"},
      {"name": "holderEmail", "type": "string"},
      {"name": "beneficiary", "type": "string"},
      {"name": "ownerUserId", "type": "uint256"},
      {"name": "amount", "type": "uint256"},
      {"name": "lineItemsJson", "type": "string"},
      {"name": "receiverCountry", "type": "string"},
      {"name": "createdAt", "type": "uint256"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "burnVoucher",
    "stateMutability": "nonpayable",
    "inputs": [{"name": "code", "type": "string"}],
    "outputs": []
  },
  {
    "type": "function",
    "name": "getVoucher",
    "stateMutability": "view",
    "inputs": [{"name": "code", "type": "string"}],
    "outputs": [
      {"name": "exists", "type": "bool"},
      {"name": "kind", "type": "uint8"},
      {"name": "holderName", "type": "string"},
      {"name": "holderEmail", "type": "string"},
      {"name": "beneficiary", "type": "string"},
      {"name": "ownerUserId", "type": "uint256"},
      {"name": "amount", "type": "uint256"},
      {"name": "lineItemsJson", "type": "string"},
      {"name": "receiverCountry", "type": "string"},
      {"name": "createdAt", "type": "uint256"},
      {"name": "used", "type": "bool"},
      {"name": "usedAt", "type": "uint256"}
    ]
  },
  {
    "type": "function",
    "name": "allCodes",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [{"name": "", "type": "string[]"}]
  },
  {
    "type": "function",
    "name": "codesByOwner",
    "stateMutability": "view",
    "inputs": [{"name": "ownerUserId", "type": "uint256"}],
    "outputs": [{"name": "", "type": "string[]"}]
  }
]`

const (
	methodIssue        = "issueVoucher"
	methodBurn         = "burnVoucher"
	methodGetVoucher   = "getVoucher"
	methodAllCodes     = "allCodes"
	methodCodesByOwner = "codesByOwner"
)

const (
	kindCoupon uint8 = 0
	kindTicket uint8 = 1
)
